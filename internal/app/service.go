package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"artiklo/api/internal/auth"
	"artiklo/api/internal/blob"
	"artiklo/api/internal/config"
	"artiklo/api/internal/export"
	"artiklo/api/internal/intake"
	"artiklo/api/internal/pipeline"
	"artiklo/api/internal/search"
	"artiklo/api/internal/store"
)

type dataStore interface {
	Ping(ctx context.Context) error
	EnsureProfile(ctx context.Context, ownerID, fullName string) error
	GetCredits(ctx context.Context, ownerID string) (int, error)
	ListDocuments(ctx context.Context, ownerID string, limit, offset int) ([]store.StoredDocument, error)
	GetDocument(ctx context.Context, documentID string) (store.StoredDocument, error)
	DeleteDocument(ctx context.Context, ownerID, documentID string) (store.StoredDocument, error)
}

type archiveSearch interface {
	Search(ctx context.Context, q search.Query) search.Response
	DeleteDocument(id string)
}

type attachmentStore interface {
	Remove(ctx context.Context, key string) error
}

type documentExporter interface {
	Export(ctx context.Context, doc store.StoredDocument, format export.Format) (*export.Result, error)
}

type submitter interface {
	Submit(ctx context.Context, view *pipeline.View, sub pipeline.Submission) pipeline.Outcome
	Snapshot(ctx context.Context, view *pipeline.View, session string) pipeline.Snapshot
}

// DocumentView is an archived document as the archive page shows it.
type DocumentView struct {
	ID             string             `json:"id"`
	DocumentType   string             `json:"documentType"`
	OriginalText   string             `json:"originalText"`
	SimplifiedText string             `json:"simplifiedText"`
	Summary        *string            `json:"summary"`
	ActionPlan     *string            `json:"actionPlan"`
	Entities       json.RawMessage    `json:"entities,omitempty"`
	Attachments    []store.Attachment `json:"attachments"`
	Degraded       bool               `json:"degraded"`
	CreatedAt      time.Time          `json:"createdAt"`
}

// submissionInput is what one analyze request carried besides staged files.
type submissionInput struct {
	Text    string
	Model   string
	Sources []intake.FileSource
}

type Service struct {
	cfg         config.Config
	store       dataStore
	search      archiveSearch
	attachments attachmentStore
	exporter    documentExporter
	identities  *auth.Resolver
	pipeline    submitter
	sessionTTL  time.Duration
	sessionMu   sync.Mutex
	sessions    map[string]*sessionEntry
	owned       map[string]map[string]struct{}
	lastSweep   time.Time
	now         func() time.Time
}

const (
	// maxSessionsPerOwner bounds the views one caller can keep open. The
	// oldest idle view is dropped to make room for a new one.
	maxSessionsPerOwner  = 8
	sessionSweepInterval = time.Minute
)

type sessionEntry struct {
	owner string
	view  *pipeline.View
}

// sessionRef names one client view. Owner is the identity, or the client
// origin for anonymous callers, that the view counts against.
type sessionRef struct {
	Owner string
	Key   string
}

// New wires the service. archive, attachments and exporter are optional.
func New(cfg config.Config, dataStore *store.PostgresStore, archive *search.Service, attachments *blob.MinioStore, exporter *export.Service, pipe *pipeline.Pipeline) *Service {
	svc := &Service{
		cfg:        cfg,
		store:      dataStore,
		identities: auth.NewResolver(cfg.JWTSecret),
		pipeline:   pipe,
		sessionTTL: cfg.SessionTTL,
		sessions:   make(map[string]*sessionEntry),
		owned:      make(map[string]map[string]struct{}),
		now:        time.Now,
	}
	if archive != nil {
		svc.search = archive
	}
	if attachments != nil {
		svc.attachments = attachments
	}
	if exporter != nil {
		svc.exporter = exporter
	}
	if svc.sessionTTL <= 0 {
		svc.sessionTTL = 30 * time.Minute
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Identify(bearer string) (auth.Identity, error) {
	return s.identities.Resolve(bearer)
}

// Analyze submits the request's text and files together with the files
// already staged in the session.
func (s *Service) Analyze(ctx context.Context, identity auth.Identity, session sessionRef, origin string, input submissionInput) (pipeline.Outcome, pipeline.Snapshot) {
	view := s.view(session)
	sources := append(view.Sources(), input.Sources...)
	payload := intake.Aggregate(input.Text, input.Model, sources...)

	if identity.Authenticated {
		if err := s.store.EnsureProfile(ctx, identity.ID, identity.Name); err != nil {
			log.Printf("app: ensure profile %s: %v", identity.ID, err)
		}
	}

	outcome := s.pipeline.Submit(ctx, view, pipeline.Submission{
		Identity:   identity,
		Session:    session.Key,
		RateKey:    auth.RateKey(identity, origin),
		Payload:    payload,
		Rejections: intake.Rejections(input.Sources...),
	})
	return outcome, s.pipeline.Snapshot(ctx, view, session.Key)
}

// Stage keeps files in the session for the next submission.
func (s *Service) Stage(ctx context.Context, session sessionRef, input submissionInput) ([]intake.Rejection, pipeline.Snapshot) {
	view := s.view(session)
	view.Stage(func(browser *intake.BrowserSource, device *intake.DeviceSource) {
		for _, source := range input.Sources {
			for _, file := range source.Files() {
				if file.Source == intake.SourceDevice {
					device.AddFile(file)
				} else {
					browser.AddFile(file)
				}
			}
		}
	})
	return intake.Rejections(input.Sources...), s.pipeline.Snapshot(ctx, view, session.Key)
}

func (s *Service) Snapshot(ctx context.Context, session sessionRef) pipeline.Snapshot {
	return s.pipeline.Snapshot(ctx, s.view(session), session.Key)
}

// Reset clears the session view. It reports whether the reset waits for a
// pending submission.
func (s *Service) Reset(ctx context.Context, session sessionRef) (bool, pipeline.Snapshot) {
	view := s.view(session)
	deferred := view.Reset()
	return deferred, s.pipeline.Snapshot(ctx, view, session.Key)
}

func (s *Service) Credits(ctx context.Context, identity auth.Identity) (int, error) {
	if !identity.Authenticated {
		return 0, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	if err := s.store.EnsureProfile(ctx, identity.ID, identity.Name); err != nil {
		return 0, err
	}
	return s.store.GetCredits(ctx, identity.ID)
}

func (s *Service) ListDocuments(ctx context.Context, identity auth.Identity, limit, offset int) ([]DocumentView, error) {
	if !identity.Authenticated {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	documents, err := s.store.ListDocuments(ctx, identity.ID, limit, offset)
	if err != nil {
		return nil, err
	}
	views := make([]DocumentView, 0, len(documents))
	for _, doc := range documents {
		views = append(views, toDocumentView(doc))
	}
	return views, nil
}

func (s *Service) SearchDocuments(ctx context.Context, identity auth.Identity, text string, limit, offset int) (search.Response, error) {
	if !identity.Authenticated {
		return search.Response{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	return s.search.Search(ctx, search.Query{Text: text, OwnerID: identity.ID, Limit: limit, Offset: offset}), nil
}

func (s *Service) GetDocument(ctx context.Context, identity auth.Identity, documentID string) (DocumentView, error) {
	if !identity.Authenticated {
		return DocumentView{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return DocumentView{}, err
	}
	if doc.OwnerID != identity.ID {
		return DocumentView{}, store.ErrNotFound
	}
	return toDocumentView(doc), nil
}

// ExportDocument renders an owned document for download.
func (s *Service) ExportDocument(ctx context.Context, identity auth.Identity, documentID string, format export.Format) (*export.Result, error) {
	if !identity.Authenticated {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != identity.ID {
		return nil, store.ErrNotFound
	}
	return s.exporter.Export(ctx, doc, format)
}

// DeleteDocument removes an owned document and then its attachments and
// index entry.
func (s *Service) DeleteDocument(ctx context.Context, identity auth.Identity, documentID string) error {
	if !identity.Authenticated {
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	}
	doc, err := s.store.DeleteDocument(ctx, identity.ID, documentID)
	if err != nil {
		return err
	}
	if s.attachments != nil {
		for _, attachment := range doc.Attachments {
			if err := s.attachments.Remove(ctx, attachment.Key); err != nil {
				log.Printf("app: remove attachment %s of %s: %v", attachment.Key, doc.ID, err)
			}
		}
	}
	if s.search != nil {
		s.search.DeleteDocument(doc.ID)
	}
	return nil
}

// view returns the session's view, creating it on first use. Views idle for
// longer than the session TTL are dropped unless a submission is pending.
func (s *Service) view(session sessionRef) *pipeline.View {
	now := s.now()
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	if now.Sub(s.lastSweep) >= sessionSweepInterval {
		for key, entry := range s.sessions {
			if !entry.view.Pending() && now.Sub(entry.view.IdleSince()) > s.sessionTTL {
				s.dropSession(key)
			}
		}
		s.lastSweep = now
	}
	if entry, ok := s.sessions[session.Key]; ok {
		return entry.view
	}

	if len(s.owned[session.Owner]) >= maxSessionsPerOwner {
		s.evictOldestIdle(session.Owner)
	}
	view := pipeline.NewView()
	s.sessions[session.Key] = &sessionEntry{owner: session.Owner, view: view}
	if s.owned[session.Owner] == nil {
		s.owned[session.Owner] = make(map[string]struct{})
	}
	s.owned[session.Owner][session.Key] = struct{}{}
	return view
}

// evictOldestIdle drops the owner's least recently used view that has no
// pending submission. Pending views are never dropped; how many an owner can
// hold is bounded by the rate limiter.
func (s *Service) evictOldestIdle(owner string) {
	var oldestKey string
	var oldest time.Time
	for key := range s.owned[owner] {
		view := s.sessions[key].view
		if view.Pending() {
			continue
		}
		if idle := view.IdleSince(); oldestKey == "" || idle.Before(oldest) {
			oldestKey, oldest = key, idle
		}
	}
	if oldestKey != "" {
		s.dropSession(oldestKey)
	}
}

func (s *Service) dropSession(key string) {
	entry, ok := s.sessions[key]
	if !ok {
		return
	}
	delete(s.sessions, key)
	delete(s.owned[entry.owner], key)
	if len(s.owned[entry.owner]) == 0 {
		delete(s.owned, entry.owner)
	}
}

func (s *Service) sessionCount() int {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return len(s.sessions)
}

// sessionFor scopes the client's session header to the caller so one
// account cannot address another's view.
func sessionFor(identity auth.Identity, header, origin string) sessionRef {
	owner := auth.RateKey(identity, origin)
	header = strings.TrimSpace(header)
	if header == "" {
		header = "default"
	}
	return sessionRef{Owner: owner, Key: fmt.Sprintf("%s:%s", owner, header)}
}

func toDocumentView(doc store.StoredDocument) DocumentView {
	attachments := doc.Attachments
	if attachments == nil {
		attachments = []store.Attachment{}
	}
	return DocumentView{
		ID:             doc.ID,
		DocumentType:   doc.DocumentType,
		OriginalText:   doc.OriginalText,
		SimplifiedText: doc.SimplifiedText,
		Summary:        doc.Summary,
		ActionPlan:     doc.ActionPlan,
		Entities:       doc.Entities,
		Attachments:    attachments,
		Degraded:       doc.Degraded,
		CreatedAt:      doc.CreatedAt,
	}
}
