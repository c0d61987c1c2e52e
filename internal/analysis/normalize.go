package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNormalization = errors.New("unrecognized analysis response")

type Schema string

const (
	SchemaStructured Schema = "structured"
	SchemaLegacy     Schema = "legacy"
)

// Response is either a StructuredResponse or a LegacyResponse.
type Response interface {
	Schema() Schema
}

type StructuredEntity struct {
	Entity string          `json:"entity"`
	Label  string          `json:"label"`
	Value  json.RawMessage `json:"value"`
}

type StructuredStep struct {
	Description      string `json:"description"`
	ActionType       string `json:"actionType"`
	DocumentToCreate string `json:"documentToCreate"`
}

type StructuredRisk struct {
	RiskType       string `json:"riskType"`
	Description    string `json:"description"`
	Severity       string `json:"severity"`
	Article        string `json:"article"`
	LegalReference string `json:"legalReference"`
	Recommendation string `json:"recommendation"`
}

// StructuredResponse is the current service schema.
type StructuredResponse struct {
	SimplifiedText    string             `json:"simplifiedText"`
	DocumentType      string             `json:"documentType"`
	Summary           string             `json:"summary"`
	ActionPlan        string             `json:"actionPlan"`
	ExtractedEntities []StructuredEntity `json:"extractedEntities"`
	ActionableSteps   []StructuredStep   `json:"actionableSteps"`
	RiskItems         []StructuredRisk   `json:"riskItems"`
	GeneratedDocument *GeneratedDocument `json:"generatedDocument"`
}

func (StructuredResponse) Schema() Schema { return SchemaStructured }

// LegacyEntity accepts both the Turkish and the English field names older
// service versions used.
type LegacyEntity struct {
	Label       string
	Value       string
	Role        string
	Description string
}

// LegacyResponse is the flat schema of older service versions.
type LegacyResponse struct {
	Summary        string
	SimplifiedText string
	DocumentType   string
	ActionPlan     string
	Entities       []LegacyEntity
	RawEntities    json.RawMessage
}

func (LegacyResponse) Schema() Schema { return SchemaLegacy }

var structuredKeys = []string{"simplifiedText", "documentType", "extractedEntities", "actionableSteps"}

var legacyKeys = []string{"summary", "simplifiedText", "actionPlan", "entities"}

// Decode picks the schema of a raw response body. All four structured keys
// present selects the structured schema; otherwise the body must carry at
// least one legacy key.
func Decode(raw []byte) (Response, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrNormalization)
	}

	structured := true
	for _, key := range structuredKeys {
		if !present(fields[key]) {
			structured = false
			break
		}
	}
	if structured {
		var resp StructuredResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNormalization, err)
		}
		return resp, nil
	}

	known := false
	for _, key := range legacyKeys {
		if _, ok := fields[key]; ok && !isNull(fields[key]) {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("%w: no known fields", ErrNormalization)
	}

	return LegacyResponse{
		Summary:        text(fields["summary"]),
		SimplifiedText: text(fields["simplifiedText"]),
		DocumentType:   text(fields["documentType"]),
		ActionPlan:     text(fields["actionPlan"]),
		Entities:       legacyEntities(fields["entities"]),
		RawEntities:    fields["entities"],
	}, nil
}

// Normalize maps either schema onto the canonical Result.
func Normalize(resp Response) Result {
	switch r := resp.(type) {
	case StructuredResponse:
		return normalizeStructured(r)
	case LegacyResponse:
		return normalizeLegacy(r)
	default:
		return Result{DocumentType: UnknownLabel, ExtractedEntities: []Entity{}, ActionableSteps: []ActionableStep{}}
	}
}

// Parse is Decode followed by Normalize.
func Parse(raw []byte) (Result, Schema, error) {
	resp, err := Decode(raw)
	if err != nil {
		return Result{}, "", err
	}
	return Normalize(resp), resp.Schema(), nil
}

func normalizeStructured(r StructuredResponse) Result {
	result := Result{
		DocumentType:      r.DocumentType,
		Summary:           r.Summary,
		SimplifiedText:    r.SimplifiedText,
		ActionPlan:        r.ActionPlan,
		ExtractedEntities: make([]Entity, 0, len(r.ExtractedEntities)),
		ActionableSteps:   make([]ActionableStep, 0, len(r.ActionableSteps)),
	}
	for _, e := range r.ExtractedEntities {
		result.ExtractedEntities = append(result.ExtractedEntities, Entity{
			Label: firstNonBlank(e.Entity, e.Label),
			Value: text(e.Value),
		})
	}
	for _, s := range r.ActionableSteps {
		kind := StepInfoOnly
		if StepKind(s.ActionType) == StepCreateDocument {
			kind = StepCreateDocument
		}
		result.ActionableSteps = append(result.ActionableSteps, ActionableStep{
			Description:    s.Description,
			Kind:           kind,
			TargetDocument: s.DocumentToCreate,
		})
	}
	for _, risk := range r.RiskItems {
		result.RiskItems = append(result.RiskItems, RiskItem{
			Kind:           risk.RiskType,
			Description:    risk.Description,
			Severity:       Severity(risk.Severity),
			LegalReference: firstNonBlank(risk.LegalReference, risk.Article),
			Recommendation: risk.Recommendation,
		})
	}
	if result.HasCreateDocumentStep() {
		result.GeneratedDocument = r.GeneratedDocument
	}
	return result
}

func normalizeLegacy(r LegacyResponse) Result {
	result := Result{
		DocumentType:      firstNonBlank(r.DocumentType, UnknownLabel),
		Summary:           r.Summary,
		SimplifiedText:    r.SimplifiedText,
		ActionPlan:        r.ActionPlan,
		ExtractedEntities: make([]Entity, 0, len(r.Entities)),
		ActionableSteps:   []ActionableStep{},
	}
	for _, e := range r.Entities {
		result.ExtractedEntities = append(result.ExtractedEntities, Entity{
			Label:       firstNonBlank(e.Label, UnknownLabel),
			Value:       e.Value,
			Role:        e.Role,
			Description: e.Description,
		})
	}
	return result
}

func legacyEntities(raw json.RawMessage) []LegacyEntity {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	entities := make([]LegacyEntity, 0, len(items))
	for _, item := range items {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
			continue
		}
		entities = append(entities, LegacyEntity{
			Label:       firstNonBlank(text(fields["tip"]), text(fields["entity"])),
			Value:       firstNonBlank(text(fields["değer"]), text(fields["value"])),
			Role:        text(fields["rol"]),
			Description: text(fields["açıklama"]),
		})
	}
	return entities
}

// present follows the service's truthiness rules: the key exists, is not
// null, and is not an empty string.
func present(raw json.RawMessage) bool {
	if len(raw) == 0 || isNull(raw) {
		return false
	}
	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] == '"' {
		return text(raw) != ""
	}
	return true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// text renders a scalar JSON value as a string: strings unquoted, numbers and
// booleans as written, null and missing as empty.
func text(raw json.RawMessage) string {
	if len(raw) == 0 || isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return ""
	}
	return string(trimmed)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
