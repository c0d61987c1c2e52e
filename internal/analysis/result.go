// Package analysis talks to the remote simplification service and turns its
// responses into one canonical Result.
package analysis

import "strings"

type Model string

const (
	ModelFlash Model = "flash"
	ModelPro   Model = "pro"
)

// ParseModel maps a client selector to a model; anything unknown is flash.
func ParseModel(value string) Model {
	if Model(strings.ToLower(strings.TrimSpace(value))) == ModelPro {
		return ModelPro
	}
	return ModelFlash
}

type StepKind string

const (
	StepCreateDocument StepKind = "CREATE_DOCUMENT"
	StepInfoOnly       StepKind = "INFO_ONLY"
)

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// UnknownLabel is used where the service omitted a label or document type.
const UnknownLabel = "Bilinmeyen"

type Entity struct {
	Label       string `json:"label"`
	Value       string `json:"value"`
	Role        string `json:"role,omitempty"`
	Description string `json:"description,omitempty"`
}

type ActionableStep struct {
	Description    string   `json:"description"`
	Kind           StepKind `json:"kind"`
	TargetDocument string   `json:"targetDocument,omitempty"`
}

type RiskItem struct {
	Kind           string   `json:"kind"`
	Description    string   `json:"description"`
	Severity       Severity `json:"severity"`
	LegalReference string   `json:"legalReference,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
}

type Party struct {
	Role    string `json:"role"`
	Details string `json:"details"`
}

// GeneratedDocument is the structured petition draft the service may return.
type GeneratedDocument struct {
	Addressee            string   `json:"addressee"`
	CaseReference        string   `json:"caseReference"`
	Parties              []Party  `json:"parties"`
	Subject              string   `json:"subject"`
	Explanations         []string `json:"explanations"`
	LegalGrounds         string   `json:"legalGrounds"`
	ConclusionAndRequest string   `json:"conclusionAndRequest"`
	Attachments          []string `json:"attachments,omitempty"`
	SignatureBlock       string   `json:"signatureBlock"`
}

// Result is the canonical analysis. GeneratedDocument is only set when at
// least one step is CREATE_DOCUMENT. Degraded marks a locally synthesized
// fallback.
type Result struct {
	DocumentType      string             `json:"documentType"`
	Summary           string             `json:"summary"`
	SimplifiedText    string             `json:"simplifiedText"`
	ExtractedEntities []Entity           `json:"extractedEntities"`
	ActionableSteps   []ActionableStep   `json:"actionableSteps"`
	RiskItems         []RiskItem         `json:"riskItems,omitempty"`
	GeneratedDocument *GeneratedDocument `json:"generatedDocument,omitempty"`
	ActionPlan        string             `json:"actionPlan,omitempty"`
	Degraded          bool               `json:"degraded"`
}

func (r Result) HasCreateDocumentStep() bool {
	for _, step := range r.ActionableSteps {
		if step.Kind == StepCreateDocument {
			return true
		}
	}
	return false
}
