package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"

	"artiklo/api/internal/analysis"
)

//go:embed templates/*.html
var templateFS embed.FS

var documentTemplate = template.Must(template.New("document.html").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/document.html"))

// TemplateData holds data for document template rendering
type TemplateData struct {
	Title          string
	Summary        string
	Simplified     []string
	Original       []string
	Steps          []analysis.ActionableStep
	Risks          []analysis.RiskItem
	Entities       []analysis.Entity
	LegacyPlan     []string
	Degraded       bool
	CreatedAt      time.Time
	AttachmentList []string
}

// RenderDocumentHTML renders the document template with provided data
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
