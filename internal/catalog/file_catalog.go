package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileTool is the YAML shape of one tool definition.
type fileTool struct {
	Key                   string         `yaml:"key"`
	Name                  string         `yaml:"name"`
	Module                string         `yaml:"module"`
	RiskLevel             string         `yaml:"risk_level"`
	RequiresApproval      bool           `yaml:"requires_approval"`
	ApprovalTriggerFields []string       `yaml:"approval_trigger_fields"`
	SensitiveFields       []string       `yaml:"sensitive_fields"`
	RequestSchema         map[string]any `yaml:"request_schema"`
	Active                *bool          `yaml:"active"` // defaults to true when omitted
}

type fileCatalogDoc struct {
	Tools []fileTool `yaml:"tools"`
}

// FileCatalog serves tool definitions from a YAML file, loaded once at
// startup. Intended for development and single-node deployments without
// Postgres.
type FileCatalog struct {
	tools map[string]*ToolDefinition
}

// NewFileCatalog loads and validates a YAML catalog file.
func NewFileCatalog(path string) (*FileCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("NewFileCatalog: %w", err)
	}

	var doc fileCatalogDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("NewFileCatalog: parse %s: %w", path, err)
	}

	tools := make(map[string]*ToolDefinition, len(doc.Tools))
	for _, t := range doc.Tools {
		if t.Key == "" {
			return nil, fmt.Errorf("NewFileCatalog: tool with empty key in %s", path)
		}
		risk, err := ParseRiskLevel(t.RiskLevel)
		if err != nil {
			return nil, fmt.Errorf("NewFileCatalog: tool %q: %w", t.Key, err)
		}
		active := true
		if t.Active != nil {
			active = *t.Active
		}
		if _, dup := tools[t.Key]; dup {
			return nil, fmt.Errorf("NewFileCatalog: duplicate tool key %q", t.Key)
		}
		tools[t.Key] = &ToolDefinition{
			Key:                   t.Key,
			Name:                  t.Name,
			Module:                t.Module,
			RiskLevel:             risk,
			RequiresApproval:      t.RequiresApproval,
			ApprovalTriggerFields: t.ApprovalTriggerFields,
			SensitiveFields:       t.SensitiveFields,
			RequestSchema:         normalizeSchema(t.RequestSchema),
			Active:                active,
		}
	}

	return &FileCatalog{tools: tools}, nil
}

func (c *FileCatalog) GetTool(_ context.Context, toolKey string) (*ToolDefinition, error) {
	return c.tools[toolKey], nil
}

// normalizeSchema converts YAML-decoded nested maps (map[any]any under
// yaml.v3 for some shapes) into JSON-compatible map[string]any.
func normalizeSchema(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeSchema(t)
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprintf("%v", k)] = normalizeValue(val)
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}
