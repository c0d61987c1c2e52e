package export

import (
	"encoding/json"
	"strings"

	"artiklo/api/internal/analysis"
)

// storedPlan is the action_plan column of a structured analysis. Legacy
// analyses store free text there instead.
type storedPlan struct {
	Structured        bool                      `json:"__structured"`
	ActionableSteps   []analysis.ActionableStep `json:"actionable_steps"`
	ExtractedEntities []analysis.Entity         `json:"extracted_entities"`
	RiskItems         []analysis.RiskItem       `json:"risk_items"`
	LegacyActionPlan  *string                   `json:"legacy_action_plan"`
}

// decodePlan splits a stored action plan into its parts. Anything that is
// not a structured plan is returned as legacy text.
func decodePlan(actionPlan *string) (storedPlan, string) {
	if actionPlan == nil {
		return storedPlan{}, ""
	}
	raw := strings.TrimSpace(*actionPlan)
	if strings.HasPrefix(raw, "{") {
		var plan storedPlan
		if err := json.Unmarshal([]byte(raw), &plan); err == nil && plan.Structured {
			legacy := ""
			if plan.LegacyActionPlan != nil {
				legacy = *plan.LegacyActionPlan
			}
			return plan, legacy
		}
	}
	return storedPlan{}, raw
}

func decodeEntities(raw json.RawMessage) []analysis.Entity {
	if len(raw) == 0 {
		return nil
	}
	var entities []analysis.Entity
	if err := json.Unmarshal(raw, &entities); err != nil {
		return nil
	}
	return entities
}

// paragraphs splits text on blank lines and drops empty blocks.
func paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, block := range strings.Split(text, "\n\n") {
		if block = strings.TrimSpace(block); block != "" {
			out = append(out, block)
		}
	}
	return out
}
