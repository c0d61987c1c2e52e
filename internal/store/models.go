package store

import (
	"encoding/json"
	"time"
)

// StoredDocument is one archived analysis. Summary and ActionPlan are
// nullable in the table; nil means the analysis produced nothing for them.
type StoredDocument struct {
	ID             string
	OwnerID        string
	OriginalText   string
	SimplifiedText string
	Summary        *string
	ActionPlan     *string
	DocumentType   string
	Entities       json.RawMessage
	Attachments    []Attachment
	Degraded       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Attachment points at the stored original of an uploaded file.
type Attachment struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
}
