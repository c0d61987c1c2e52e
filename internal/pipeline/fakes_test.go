package pipeline

import (
	"context"
	"sync"
	"time"

	"artiklo/api/internal/analysis"
	"artiklo/api/internal/auth"
	"artiklo/api/internal/blob"
	"artiklo/api/internal/guard"
	"artiklo/api/internal/intake"
	"artiklo/api/internal/search"
	"artiklo/api/internal/store"
)

type fakeAnalyzer struct {
	mu        sync.Mutex
	calls     int
	requests  []analysis.Request
	analyzeFn func(ctx context.Context, req analysis.Request) ([]byte, error)
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req analysis.Request) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.requests = append(f.requests, req)
	fn := f.analyzeFn
	f.mu.Unlock()
	return fn(ctx, req)
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func respond(body string) func(context.Context, analysis.Request) ([]byte, error) {
	return func(context.Context, analysis.Request) ([]byte, error) {
		return []byte(body), nil
	}
}

func fail(err error) func(context.Context, analysis.Request) ([]byte, error) {
	return func(context.Context, analysis.Request) ([]byte, error) {
		return nil, err
	}
}

type fakeDocuments struct {
	mu       sync.Mutex
	inserted []store.StoredDocument
	debited  []string
	insertFn func(item store.StoredDocument) error
	debitFn  func(ownerID string) error
}

func (f *fakeDocuments) InsertDocument(_ context.Context, item store.StoredDocument) (store.StoredDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertFn != nil {
		if err := f.insertFn(item); err != nil {
			return store.StoredDocument{}, err
		}
	}
	item.CreatedAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f.inserted = append(f.inserted, item)
	return item, nil
}

func (f *fakeDocuments) DebitCredit(_ context.Context, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.debited = append(f.debited, ownerID)
	if f.debitFn != nil {
		return f.debitFn(ownerID)
	}
	return nil
}

type fakeAttachments struct {
	put     []string
	removed []string
	objects map[string]bool
	putFn   func(name string) error
}

func (f *fakeAttachments) Put(_ context.Context, ownerID, documentID, name, mimeType string, data []byte) (store.Attachment, error) {
	if f.putFn != nil {
		if err := f.putFn(name); err != nil {
			return store.Attachment{}, err
		}
	}
	key := blob.ObjectKey(ownerID, documentID, name, data)
	if f.objects == nil {
		f.objects = map[string]bool{}
	}
	f.objects[key] = true
	f.put = append(f.put, key)
	return store.Attachment{Key: key, Name: name, MimeType: mimeType, SizeBytes: int64(len(data))}, nil
}

func (f *fakeAttachments) Remove(_ context.Context, key string) error {
	f.removed = append(f.removed, key)
	delete(f.objects, key)
	return nil
}

type fakeIndexer struct {
	records []search.DocumentRecord
}

func (f *fakeIndexer) IndexDocument(doc search.DocumentRecord) {
	f.records = append(f.records, doc)
}

var member = auth.Identity{ID: "usr_1", Name: "Ayşe", Token: "tok", Authenticated: true}

var anonymous = auth.Identity{ID: auth.AnonymousID}

func newTestGuard(maxAttempts int) *guard.Guard {
	return guard.New(guard.NewMemoryLimiter(maxAttempts, 15*time.Minute), guard.NewMemoryLock())
}

type harness struct {
	analyzer  *fakeAnalyzer
	documents *fakeDocuments
	indexer   *fakeIndexer
	pipeline  *Pipeline
	view      *View
}

func newHarness(analyzeFn func(context.Context, analysis.Request) ([]byte, error)) *harness {
	h := &harness{
		analyzer:  &fakeAnalyzer{analyzeFn: analyzeFn},
		documents: &fakeDocuments{},
		indexer:   &fakeIndexer{},
		view:      NewView(),
	}
	h.pipeline = New(newTestGuard(5), h.analyzer, NewCoordinator(h.documents, nil, h.indexer))
	return h
}

func textPayload(text string) intake.Payload {
	return intake.Aggregate(text, "")
}

func imagePayload() intake.Payload {
	browser := intake.NewBrowserSource()
	browser.Add("scan.png", "image/png", []byte("\x89PNG fake"))
	return intake.Aggregate("", "", browser)
}

const structuredBody = `{
	"documentType": "Sözleşme",
	"summary": "12 aylık kira sözleşmesi.",
	"simplifiedText": "Kira sözleşmeniz 12 ay sürer.",
	"extractedEntities": [{"entity": "Süre", "value": "12 ay"}],
	"actionableSteps": [{"description": "Sözleşmeyi saklayın.", "actionType": "INFO_ONLY"}],
	"riskItems": []
}`

const legacyBody = `{"summary": "Özet", "simplifiedText": "Metin", "entities": [{"tip": "Taraf", "değer": "Ali"}]}`
