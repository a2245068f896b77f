package catalog

import "fmt"

// RiskLevel classifies how dangerous a tool's side effects are.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Rank returns the ordering of a risk level (low < medium < high).
// Unknown levels rank above high so a corrupted definition fails safe.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	default:
		return 3
	}
}

// ParseRiskLevel validates a risk level string.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh:
		return RiskLevel(s), nil
	}
	return "", fmt.Errorf("unknown risk level %q", s)
}

// ToolDefinition is the per-tool governance configuration.
// Owned by the external catalog; immutable per version, read-only here.
type ToolDefinition struct {
	Key                   string
	Name                  string
	Module                string
	RiskLevel             RiskLevel
	RequiresApproval      bool
	ApprovalTriggerFields []string       // field names whose presence forces approval
	SensitiveFields       []string       // field names redacted from records and logs
	RequestSchema         map[string]any // JSON Schema for the request body, nil if unset
	Active                bool
}
