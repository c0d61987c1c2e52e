package export

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"artiklo/api/internal/store"
)

func strPtr(s string) *string { return &s }

const structuredPlan = `{
	"__structured": true,
	"actionable_steps": [{"description": "Sözleşmeyi saklayın.", "kind": "INFO_ONLY"}],
	"extracted_entities": [{"label": "Süre", "value": "12 ay"}],
	"risk_items": [{"kind": "Fesih", "description": "Erken fesih cezası var.", "severity": "high", "legalReference": "TBK 347"}],
	"legacy_action_plan": null
}`

func sampleDocument() store.StoredDocument {
	return store.StoredDocument{
		ID:             "doc_1",
		OwnerID:        "usr_1",
		OriginalText:   "Kira kontratım 12 ay sürelidir.",
		SimplifiedText: "Kira sözleşmeniz 12 ay sürer.\n\nErken çıkarsanız ceza ödersiniz.",
		Summary:        strPtr("12 aylık kira sözleşmesi."),
		ActionPlan:     strPtr(structuredPlan),
		DocumentType:   "Kira Sözleşmesi",
		Attachments:    []store.Attachment{{Key: "usr_1/abc.pdf", Name: "kontrat.pdf"}},
		CreatedAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestBuildTemplateDataStructuredPlan(t *testing.T) {
	data := BuildTemplateData(sampleDocument())

	if data.Title != "Kira Sözleşmesi" || data.Summary != "12 aylık kira sözleşmesi." {
		t.Fatalf("unexpected header: %+v", data)
	}
	if len(data.Simplified) != 2 {
		t.Fatalf("expected two paragraphs, got %q", data.Simplified)
	}
	if len(data.Steps) != 1 || len(data.Risks) != 1 || len(data.LegacyPlan) != 0 {
		t.Fatalf("unexpected plan: steps=%d risks=%d legacy=%q", len(data.Steps), len(data.Risks), data.LegacyPlan)
	}
	if len(data.Entities) != 1 || data.Entities[0].Value != "12 ay" {
		t.Fatalf("entities should fall back to the plan: %+v", data.Entities)
	}
	if len(data.AttachmentList) != 1 || data.AttachmentList[0] != "kontrat.pdf" {
		t.Fatalf("unexpected attachments: %v", data.AttachmentList)
	}
}

func TestBuildTemplateDataLegacyPlan(t *testing.T) {
	doc := sampleDocument()
	doc.ActionPlan = strPtr("Avukata danışın.\n\nSüreyi kaçırmayın.")
	doc.Entities = []byte(`[{"label": "Taraf", "value": "Ali"}]`)
	doc.DocumentType = ""

	data := BuildTemplateData(doc)
	if data.Title != "Bilinmeyen" {
		t.Fatalf("title = %q", data.Title)
	}
	if len(data.Steps) != 0 || len(data.LegacyPlan) != 2 {
		t.Fatalf("unexpected legacy plan: %+v", data.LegacyPlan)
	}
	if len(data.Entities) != 1 || data.Entities[0].Label != "Taraf" {
		t.Fatalf("unexpected entities: %+v", data.Entities)
	}
}

func TestRenderDocumentHTMLEscapesContent(t *testing.T) {
	doc := sampleDocument()
	doc.SimplifiedText = "<script>alert(1)</script>"
	doc.Degraded = true

	html, err := RenderDocumentHTML(BuildTemplateData(doc))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Fatal("document text must be escaped")
	}
	for _, want := range []string{"Kira Sözleşmesi", "Sözleşmeyi saklayın.", "TBK 347", "risk high", "01.03.2026 10:00", "yerel olarak"} {
		if !strings.Contains(html, want) {
			t.Fatalf("rendered HTML missing %q", want)
		}
	}
}

func TestExportDispatchesByFormat(t *testing.T) {
	var rendered []string
	fake := func(format string) renderFunc {
		return func(_ context.Context, html, title string) (*Result, error) {
			rendered = append(rendered, format+":"+title)
			if !strings.Contains(html, "<html") {
				t.Fatalf("renderer received %q", html)
			}
			return &Result{Data: []byte(format), Filename: sanitizeFilename(title) + "." + format}, nil
		}
	}
	svc := &Service{renderPDF: fake("pdf"), renderDOCX: fake("docx")}

	result, err := svc.Export(context.Background(), sampleDocument(), FormatDOCX)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if result.Filename != "Kira-Sozlesmesi.docx" {
		t.Fatalf("filename = %q", result.Filename)
	}
	if _, err := svc.Export(context.Background(), sampleDocument(), FormatPDF); err != nil {
		t.Fatalf("export pdf: %v", err)
	}
	if strings.Join(rendered, ",") != "docx:Kira Sözleşmesi,pdf:Kira Sözleşmesi" {
		t.Fatalf("unexpected renders: %v", rendered)
	}

	if _, err := svc.Export(context.Background(), sampleDocument(), Format("odt")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{"": FormatPDF, "PDF": FormatPDF, " docx ": FormatDOCX}
	for input, want := range tests {
		got, err := ParseFormat(input)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParseFormat("odt"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"İcra Takibi Ödeme Emri": "Icra-Takibi-Odeme-Emri",
		"../../etc/passwd":       "etcpasswd",
		"???":                    "analiz",
	}
	for input, want := range tests {
		if got := sanitizeFilename(input); got != want {
			t.Fatalf("sanitizeFilename(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestPercentEncodeForDataURL(t *testing.T) {
	if got := percentEncodeForDataURL("a b<ş"); got != "a%20b%3C%C5%9F" {
		t.Fatalf("encoded = %q", got)
	}
}
