package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("document not found")
	ErrNoCredits = errors.New("no credits to debit")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InsertDocument writes one archive row and returns it with the
// database-assigned timestamps.
func (s *PostgresStore) InsertDocument(ctx context.Context, item StoredDocument) (StoredDocument, error) {
	attachments, err := json.Marshal(nonNilAttachments(item.Attachments))
	if err != nil {
		return StoredDocument{}, fmt.Errorf("encode attachments: %w", err)
	}
	var entities any
	if len(item.Entities) > 0 {
		entities = string(item.Entities)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO documents (
			id, user_id, original_text, simplified_text, summary, action_plan,
			document_type, entities, attachments, degraded
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10)
		RETURNING created_at, updated_at
	`,
		item.ID, item.OwnerID, item.OriginalText, item.SimplifiedText, item.Summary, item.ActionPlan,
		item.DocumentType, entities, string(attachments), item.Degraded,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return StoredDocument{}, fmt.Errorf("insert document: %w", err)
	}
	return item, nil
}

// DebitCredit removes one credit from the owner's profile. The balance never
// goes below zero; a missing profile or an empty balance is ErrNoCredits.
func (s *PostgresStore) DebitCredit(ctx context.Context, ownerID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE profiles
		SET credits = credits - 1, updated_at = NOW()
		WHERE id = $1 AND credits > 0
	`, ownerID)
	if err != nil {
		return fmt.Errorf("debit credit: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("debit credit rows: %w", err)
	}
	if affected == 0 {
		return ErrNoCredits
	}
	return nil
}

func (s *PostgresStore) GetCredits(ctx context.Context, ownerID string) (int, error) {
	var credits int
	err := s.db.QueryRowContext(ctx, `SELECT credits FROM profiles WHERE id=$1`, ownerID).Scan(&credits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get credits: %w", err)
	}
	return credits, nil
}

// EnsureProfile creates a profile with the default balance the first time an
// owner is seen.
func (s *PostgresStore) EnsureProfile(ctx context.Context, ownerID, fullName string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, full_name)
		VALUES ($1, NULLIF($2, ''))
		ON CONFLICT (id) DO NOTHING
	`, ownerID, fullName)
	if err != nil {
		return fmt.Errorf("ensure profile: %w", err)
	}
	return nil
}

const documentColumns = `
	id, user_id, original_text, simplified_text, summary, action_plan,
	document_type, entities, attachments, degraded, created_at, updated_at
`

func (s *PostgresStore) ListDocuments(ctx context.Context, ownerID string, limit, offset int) ([]StoredDocument, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE user_id=$1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]StoredDocument, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (StoredDocument, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, documentID)
	item, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredDocument{}, ErrNotFound
	}
	return item, err
}

// DeleteDocument removes a document only when ownerID owns it. The deleted
// row is returned so callers can clean up attachments and the search index.
func (s *PostgresStore) DeleteDocument(ctx context.Context, ownerID, documentID string) (StoredDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM documents
		WHERE id=$1 AND user_id=$2
		RETURNING `+documentColumns, documentID, ownerID)
	item, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredDocument{}, ErrNotFound
	}
	return item, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (StoredDocument, error) {
	var (
		item        StoredDocument
		summary     sql.NullString
		actionPlan  sql.NullString
		entities    []byte
		attachments []byte
	)
	err := row.Scan(
		&item.ID, &item.OwnerID, &item.OriginalText, &item.SimplifiedText, &summary, &actionPlan,
		&item.DocumentType, &entities, &attachments, &item.Degraded, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StoredDocument{}, err
		}
		return StoredDocument{}, fmt.Errorf("scan document: %w", err)
	}
	if summary.Valid {
		item.Summary = &summary.String
	}
	if actionPlan.Valid {
		item.ActionPlan = &actionPlan.String
	}
	if len(entities) > 0 {
		item.Entities = json.RawMessage(entities)
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &item.Attachments); err != nil {
			return StoredDocument{}, fmt.Errorf("decode attachments: %w", err)
		}
	}
	return item, nil
}

func nonNilAttachments(items []Attachment) []Attachment {
	if items == nil {
		return []Attachment{}
	}
	return items
}
