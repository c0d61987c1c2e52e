package export

import (
	"context"
	"fmt"
	"strings"

	"artiklo/api/internal/analysis"
	"artiklo/api/internal/store"
)

type renderFunc func(ctx context.Context, html, title string) (*Result, error)

// Service provides document export functionality
type Service struct {
	renderPDF  renderFunc
	renderDOCX renderFunc
}

// NewService creates an export service backed by headless Chromium for PDF
// and pandoc for DOCX.
func NewService() *Service {
	return &Service{renderPDF: exportPDF, renderDOCX: exportDOCX}
}

// Export renders an archived analysis in the requested format. Ownership is
// checked by the caller.
func (s *Service) Export(ctx context.Context, doc store.StoredDocument, format Format) (*Result, error) {
	data := BuildTemplateData(doc)
	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatPDF:
		return s.renderPDF(ctx, html, data.Title)
	case FormatDOCX:
		return s.renderDOCX(ctx, html, data.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// BuildTemplateData lays out a stored document for the export template.
func BuildTemplateData(doc store.StoredDocument) TemplateData {
	plan, legacy := decodePlan(doc.ActionPlan)

	data := TemplateData{
		Title:      strings.TrimSpace(doc.DocumentType),
		Simplified: paragraphs(doc.SimplifiedText),
		Original:   paragraphs(doc.OriginalText),
		Steps:      plan.ActionableSteps,
		Risks:      plan.RiskItems,
		Entities:   decodeEntities(doc.Entities),
		LegacyPlan: paragraphs(legacy),
		Degraded:   doc.Degraded,
		CreatedAt:  doc.CreatedAt,
	}
	if data.Title == "" {
		data.Title = analysis.UnknownLabel
	}
	if doc.Summary != nil {
		data.Summary = strings.TrimSpace(*doc.Summary)
	}
	if len(data.Entities) == 0 {
		data.Entities = plan.ExtractedEntities
	}
	for _, attachment := range doc.Attachments {
		data.AttachmentList = append(data.AttachmentList, attachment.Name)
	}
	return data
}
