package search

import (
	"context"
	"time"

	"artiklo/api/internal/store"
)

// Result is a single archive hit returned to the caller.
type Result struct {
	ID           string    `json:"id"`
	DocumentType string    `json:"documentType"`
	Title        string    `json:"title"`
	Snippet      string    `json:"snippet"`
	Degraded     bool      `json:"degraded"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Query describes an archive search. OwnerID is mandatory: nobody searches
// another user's documents.
type Query struct {
	Text    string
	OwnerID string
	Limit   int
	Offset  int
}

// Response is the envelope returned by the documents endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push archived documents into a search index.
type Indexer interface {
	IndexDocument(doc DocumentRecord) error
	IndexDocuments(docs []DocumentRecord) error
	DeleteDocument(id string) error
}

// Backend is a search engine that is both queried and fed.
type Backend interface {
	Searcher
	Indexer
}

// DocumentRecord is the data we index for an archived document.
type DocumentRecord struct {
	ID             string `json:"id"`
	UserID         string `json:"userId"`
	DocumentType   string `json:"documentType"`
	Summary        string `json:"summary"`
	SimplifiedText string `json:"simplifiedText"`
	Degraded       bool   `json:"degraded"`
	CreatedAt      int64  `json:"createdAt"`
}

func RecordFromStored(doc store.StoredDocument) DocumentRecord {
	record := DocumentRecord{
		ID:             doc.ID,
		UserID:         doc.OwnerID,
		DocumentType:   doc.DocumentType,
		SimplifiedText: doc.SimplifiedText,
		Degraded:       doc.Degraded,
		CreatedAt:      doc.CreatedAt.Unix(),
	}
	if doc.Summary != nil {
		record.Summary = *doc.Summary
	}
	return record
}
