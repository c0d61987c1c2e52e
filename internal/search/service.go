package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  Backend
	fallback Searcher
}

// NewService creates a search service. primary may be nil if Meilisearch is not configured.
func NewService(primary Backend, fallback Searcher) *Service {
	return &Service{primary: primary, fallback: fallback}
}

// Search tries the primary backend if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primaryHealthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDocument indexes an archived document (fire-and-forget).
func (s *Service) IndexDocument(doc DocumentRecord) {
	if !s.primaryHealthy() {
		return
	}
	go func() {
		if err := s.primary.IndexDocument(doc); err != nil {
			log.Printf("search: index document %s: %v", doc.ID, err)
		}
	}()
}

// DeleteDocument removes a document from the search index (fire-and-forget).
func (s *Service) DeleteDocument(id string) {
	if !s.primaryHealthy() {
		return
	}
	go func() {
		if err := s.primary.DeleteDocument(id); err != nil {
			log.Printf("search: delete document %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes every archived document from PG into the primary index.
// Called at startup so an empty or recreated index catches up.
func (s *Service) ReindexAll(ctx context.Context, loader interface {
	LoadAllRecords(ctx context.Context) ([]DocumentRecord, error)
}) {
	if !s.primaryHealthy() || loader == nil {
		return
	}
	documents, err := loader.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if len(documents) == 0 {
		return
	}
	if err := s.primary.IndexDocuments(documents); err != nil {
		log.Printf("search: reindex documents: %v", err)
	}
}

func (s *Service) primaryHealthy() bool {
	return s.primary != nil && s.primary.Healthy()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
