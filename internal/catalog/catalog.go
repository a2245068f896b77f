package catalog

import "context"

// Catalog provides tool definitions for the guardrail engine.
// The engine re-reads current state through GetTool at each submit and
// approve; implementations define the refresh cadence.
type Catalog interface {
	// GetTool returns the ToolDefinition for a tool key.
	// Returns nil if the tool is not in the catalog.
	GetTool(ctx context.Context, toolKey string) (*ToolDefinition, error)
}
