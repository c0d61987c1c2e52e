package app

import (
	"context"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"artiklo/api/internal/analysis"
	"artiklo/api/internal/auth"
	"artiklo/api/internal/config"
	"artiklo/api/internal/guard"
	"artiklo/api/internal/pipeline"
	"artiklo/api/internal/search"
	"artiklo/api/internal/store"
)

const testSecret = "test-secret"

type fakeStore struct {
	mu        sync.Mutex
	pingErr   error
	credits   map[string]int
	documents map[string]store.StoredDocument
	profiles  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{credits: map[string]int{}, documents: map[string]store.StoredDocument{}}
}

func (f *fakeStore) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeStore) failPing(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

func (f *fakeStore) EnsureProfile(_ context.Context, ownerID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.credits[ownerID]; !ok {
		f.credits[ownerID] = 3
		f.profiles = append(f.profiles, ownerID)
	}
	return nil
}

func (f *fakeStore) GetCredits(_ context.Context, ownerID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credits[ownerID], nil
}

func (f *fakeStore) InsertDocument(_ context.Context, item store.StoredDocument) (store.StoredDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.CreatedAt = time.Date(2026, 3, 1, 10, len(f.documents), 0, 0, time.UTC)
	item.UpdatedAt = item.CreatedAt
	f.documents[item.ID] = item
	return item, nil
}

func (f *fakeStore) DebitCredit(_ context.Context, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.credits[ownerID] <= 0 {
		return store.ErrNoCredits
	}
	f.credits[ownerID]--
	return nil
}

func (f *fakeStore) ListDocuments(_ context.Context, ownerID string, limit, offset int) ([]store.StoredDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var owned []store.StoredDocument
	for _, doc := range f.documents {
		if doc.OwnerID == ownerID {
			owned = append(owned, doc)
		}
	}
	sort.Slice(owned, func(i, j int) bool { return owned[i].CreatedAt.After(owned[j].CreatedAt) })
	if offset >= len(owned) {
		return nil, nil
	}
	owned = owned[offset:]
	if len(owned) > limit {
		owned = owned[:limit]
	}
	return owned, nil
}

func (f *fakeStore) GetDocument(_ context.Context, documentID string) (store.StoredDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[documentID]
	if !ok {
		return store.StoredDocument{}, store.ErrNotFound
	}
	return doc, nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, ownerID, documentID string) (store.StoredDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[documentID]
	if !ok || doc.OwnerID != ownerID {
		return store.StoredDocument{}, store.ErrNotFound
	}
	delete(f.documents, documentID)
	return doc, nil
}

func (f *fakeStore) documentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.documents)
}

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

func (f *fakeAnalyzer) lastRequest() analysis.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return analysis.Request{}
	}
	return f.requests[len(f.requests)-1]
}

type fakeArchive struct {
	mu      sync.Mutex
	queries []string
	deleted []string
}

func (f *fakeArchive) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q.OwnerID+":"+q.Text)
	return search.Response{Results: []search.Result{{ID: "doc_1", Title: "Kira"}}, Total: 1, Query: q.Text}
}

func (f *fakeArchive) DeleteDocument(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

type fakeRemover struct {
	removed []string
}

func (f *fakeRemover) Remove(_ context.Context, key string) error {
	f.removed = append(f.removed, key)
	return nil
}

type testServer struct {
	service  *Service
	store    *fakeStore
	analyzer *fakeAnalyzer
	server   *httptest.Server
}

func newTestServer(t *testing.T, maxAttempts int, analyzeFn func(context.Context, analysis.Request) ([]byte, error), setup ...func(*Service, *fakeStore)) *testServer {
	t.Helper()
	dataStore := newFakeStore()
	analyzer := &fakeAnalyzer{analyzeFn: analyzeFn}
	submissionGuard := guard.New(guard.NewMemoryLimiter(maxAttempts, 15*time.Minute), guard.NewMemoryLock())
	pipe := pipeline.New(submissionGuard, analyzer, pipeline.NewCoordinator(dataStore, nil, nil))

	svc := &Service{
		cfg:        config.Config{JWTSecret: testSecret},
		store:      dataStore,
		identities: auth.NewResolver(testSecret),
		pipeline:   pipe,
		sessionTTL: 30 * time.Minute,
		sessions:   make(map[string]*sessionEntry),
		owned:      make(map[string]map[string]struct{}),
		now:        time.Now,
	}
	for _, fn := range setup {
		fn(svc, dataStore)
	}
	server := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	t.Cleanup(server.Close)
	return &testServer{service: svc, store: dataStore, analyzer: analyzer, server: server}
}

func issueTestToken(t *testing.T, subject string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), subject, "Ayşe", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func respond(body string) func(context.Context, analysis.Request) ([]byte, error) {
	return func(context.Context, analysis.Request) ([]byte, error) {
		return []byte(body), nil
	}
}

const structuredBody = `{
	"documentType": "Sözleşme",
	"summary": "12 aylık kira sözleşmesi.",
	"simplifiedText": "Kira sözleşmeniz 12 ay sürer.",
	"extractedEntities": [{"entity": "Süre", "value": "12 ay"}],
	"actionableSteps": [{"description": "Sözleşmeyi saklayın.", "actionType": "INFO_ONLY"}],
	"riskItems": []
}`
