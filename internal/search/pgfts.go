package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the archive is down too.
func (p *PgFTS) Healthy() bool {
	return true
}

const pgftsWhere = `d.user_id = $2 AND d.fts @@ plainto_tsquery('turkish', $1)`

// Search ranks the owner's documents with ts_rank and builds snippets with
// ts_headline over the simplified text.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" || q.OwnerID == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	args := []any{q.Text, q.OwnerID}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM documents d WHERE `+pgftsWhere, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT d.id, d.document_type, coalesce(d.summary, ''),
			ts_headline('turkish', d.simplified_text, plainto_tsquery('turkish', $1), 'MaxFragments=1,MaxWords=30'),
			d.degraded, d.created_at
		FROM documents d
		WHERE %s
		ORDER BY ts_rank(d.fts, plainto_tsquery('turkish', $1)) DESC, d.created_at DESC
		LIMIT %d OFFSET %d`, pgftsWhere, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r         Result
			summary   string
			createdAt time.Time
		)
		if err := rows.Scan(&r.ID, &r.DocumentType, &summary, &r.Snippet, &r.Degraded, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Title = firstNonBlank(summary, r.DocumentType)
		r.CreatedAt = createdAt
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all archived documents for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, user_id, document_type, coalesce(summary, ''), simplified_text, degraded, created_at
		FROM documents
	`)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	documents := make([]DocumentRecord, 0)
	for rows.Next() {
		var (
			d         DocumentRecord
			createdAt time.Time
		)
		if err := rows.Scan(&d.ID, &d.UserID, &d.DocumentType, &d.Summary, &d.SimplifiedText, &d.Degraded, &createdAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.CreatedAt = createdAt.Unix()
		documents = append(documents, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return documents, nil
}
