package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"artiklo/api/internal/analysis"
	"artiklo/api/internal/auth"
	"artiklo/api/internal/intake"
	"artiklo/api/internal/search"
	"artiklo/api/internal/store"
	"artiklo/api/internal/util"
)

// emptySimplifiedText is archived when the analysis produced no simplified text.
const emptySimplifiedText = "Sadeleştirilmiş metin yok."

type DocumentStore interface {
	InsertDocument(ctx context.Context, item store.StoredDocument) (store.StoredDocument, error)
	DebitCredit(ctx context.Context, ownerID string) error
}

type AttachmentStore interface {
	Put(ctx context.Context, ownerID, documentID, name, mimeType string, data []byte) (store.Attachment, error)
	Remove(ctx context.Context, key string) error
}

type ArchiveIndexer interface {
	IndexDocument(doc search.DocumentRecord)
}

// Coordinator archives a result and then debits one credit.
type Coordinator struct {
	documents   DocumentStore
	attachments AttachmentStore
	index       ArchiveIndexer
}

// NewCoordinator wires the archive. attachments and index may be nil.
func NewCoordinator(documents DocumentStore, attachments AttachmentStore, index ArchiveIndexer) *Coordinator {
	return &Coordinator{documents: documents, attachments: attachments, index: index}
}

// Inserted proves a document write succeeded. It can only be obtained from
// insert, and debit only accepts an Inserted, so a credit is never taken for
// a document that was not stored.
type Inserted struct {
	doc store.StoredDocument
}

func (i Inserted) Document() store.StoredDocument {
	return i.doc
}

// Archival is what the coordinator did with one result.
type Archival struct {
	DocumentID string
	Archived   bool
	Debited    bool
	Notices    []Notice
}

// Persist runs attachments, insert, debit and indexing in that order. The
// steps report independently: a failed debit leaves the document in place.
func (c *Coordinator) Persist(ctx context.Context, owner auth.Identity, payload intake.Payload, result analysis.Result, schema analysis.Schema) Archival {
	if !owner.Authenticated || c.documents == nil {
		return Archival{Notices: []Notice{{
			Code:     NoticeNotArchived,
			Severity: SeverityInfo,
			Message:  "Sonucu arşivlemek için giriş yapın.",
		}}}
	}

	var archival Archival
	documentID := util.NewID("doc")
	attachments, notices := c.storeAttachments(ctx, owner.ID, documentID, payload.Files)
	archival.Notices = append(archival.Notices, notices...)

	doc, err := buildDocument(documentID, owner.ID, payload, result, schema, attachments)
	if err != nil {
		return c.persistenceFailed(ctx, archival, attachments, err)
	}

	inserted, err := c.insert(ctx, doc)
	if err != nil {
		return c.persistenceFailed(ctx, archival, attachments, err)
	}
	archival.Archived = true
	archival.DocumentID = inserted.doc.ID
	log.Printf("pipeline: archived document %s for %s (degraded=%t)", inserted.doc.ID, owner.ID, inserted.doc.Degraded)

	if err := c.debit(ctx, inserted); err != nil {
		log.Printf("pipeline: debit credit for %s after document %s: %v", owner.ID, inserted.doc.ID, err)
		archival.Notices = append(archival.Notices, failureNotice(newError(KindCredit, err)))
	} else {
		archival.Debited = true
	}

	if c.index != nil {
		c.index.IndexDocument(search.RecordFromStored(inserted.doc))
	}
	return archival
}

func (c *Coordinator) insert(ctx context.Context, doc store.StoredDocument) (Inserted, error) {
	stored, err := c.documents.InsertDocument(ctx, doc)
	if err != nil {
		return Inserted{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return Inserted{doc: stored}, nil
}

func (c *Coordinator) debit(ctx context.Context, receipt Inserted) error {
	if err := c.documents.DebitCredit(ctx, receipt.doc.OwnerID); err != nil {
		return fmt.Errorf("%w: %v", ErrCredit, err)
	}
	return nil
}

func (c *Coordinator) persistenceFailed(ctx context.Context, archival Archival, attachments []store.Attachment, err error) Archival {
	log.Printf("pipeline: archive document: %v", err)
	archival.Notices = append(archival.Notices, failureNotice(newError(KindPersistence, err)))
	if c.attachments != nil {
		for _, attachment := range attachments {
			if removeErr := c.attachments.Remove(ctx, attachment.Key); removeErr != nil {
				log.Printf("pipeline: remove orphaned attachment %s: %v", attachment.Key, removeErr)
			}
		}
	}
	return archival
}

func (c *Coordinator) storeAttachments(ctx context.Context, ownerID, documentID string, files []intake.UploadedFile) ([]store.Attachment, []Notice) {
	if c.attachments == nil || len(files) == 0 {
		return nil, nil
	}
	var (
		stored  []store.Attachment
		notices []Notice
	)
	for _, file := range files {
		attachment, err := c.attachments.Put(ctx, ownerID, documentID, file.Name, file.MimeType, file.Bytes)
		if err != nil {
			log.Printf("pipeline: store attachment %s: %v", file.Name, err)
			notices = append(notices, Notice{
				Code:     NoticeAttachmentWarning,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("%s dosyası saklanamadı.", file.Name),
			})
			continue
		}
		stored = append(stored, attachment)
	}
	return stored, notices
}

type structuredActionPlan struct {
	Structured        bool                      `json:"__structured"`
	ActionableSteps   []analysis.ActionableStep `json:"actionable_steps"`
	ExtractedEntities []analysis.Entity         `json:"extracted_entities"`
	RiskItems         []analysis.RiskItem       `json:"risk_items"`
	LegacyActionPlan  *string                   `json:"legacy_action_plan"`
}

func buildDocument(documentID, ownerID string, payload intake.Payload, result analysis.Result, schema analysis.Schema, attachments []store.Attachment) (store.StoredDocument, error) {
	doc := store.StoredDocument{
		ID:             documentID,
		OwnerID:        ownerID,
		OriginalText:   intake.AnnotatedText(payload),
		SimplifiedText: result.SimplifiedText,
		Summary:        optional(result.Summary),
		DocumentType:   result.DocumentType,
		Attachments:    attachments,
		Degraded:       result.Degraded,
	}
	if strings.TrimSpace(doc.SimplifiedText) == "" {
		doc.SimplifiedText = emptySimplifiedText
	}

	if schema == analysis.SchemaStructured {
		plan, err := json.Marshal(structuredActionPlan{
			Structured:        true,
			ActionableSteps:   nonNilSlice(result.ActionableSteps),
			ExtractedEntities: nonNilSlice(result.ExtractedEntities),
			RiskItems:         nonNilSlice(result.RiskItems),
			LegacyActionPlan:  optional(result.ActionPlan),
		})
		if err != nil {
			return store.StoredDocument{}, fmt.Errorf("encode action plan: %w", err)
		}
		encoded := string(plan)
		doc.ActionPlan = &encoded
	} else {
		doc.ActionPlan = optional(result.ActionPlan)
	}

	if len(result.ExtractedEntities) > 0 {
		entities, err := json.Marshal(result.ExtractedEntities)
		if err != nil {
			return store.StoredDocument{}, fmt.Errorf("encode entities: %w", err)
		}
		doc.Entities = entities
	}
	return doc, nil
}

func optional(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
