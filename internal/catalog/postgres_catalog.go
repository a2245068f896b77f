package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ToolStore abstracts DB queries for testability.
type ToolStore interface {
	LookupTool(ctx context.Context, toolKey string) (*toolRow, error)
}

type toolRow struct {
	Key                   string
	Name                  string
	Module                string
	RiskLevel             string
	RequiresApproval      bool
	ApprovalTriggerFields string // JSONB array as string
	SensitiveFields       string // JSONB array as string
	RequestSchema         sql.NullString
	Active                bool
}

// sqlToolStore is the real implementation using *sql.DB.
type sqlToolStore struct {
	db *sql.DB
}

func (s *sqlToolStore) LookupTool(ctx context.Context, toolKey string) (*toolRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tool_key, name, module, risk_level, requires_approval,
		       approval_trigger_fields, sensitive_fields, request_schema, active
		FROM tool_definitions
		WHERE tool_key = $1
	`, toolKey)

	var r toolRow
	if err := row.Scan(
		&r.Key, &r.Name, &r.Module, &r.RiskLevel, &r.RequiresApproval,
		&r.ApprovalTriggerFields, &r.SensitiveFields, &r.RequestSchema, &r.Active,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

// PostgresCatalog fetches tool definitions from the tool_definitions table.
type PostgresCatalog struct {
	store  ToolStore
	cache  *toolCache
	logger *zap.Logger
}

// PostgresCatalogConfig configures the PostgresCatalog.
type PostgresCatalogConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// NewPostgresCatalog creates a new PostgresCatalog.
func NewPostgresCatalog(cfg PostgresCatalogConfig) *PostgresCatalog {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 60 * time.Second
	}
	return &PostgresCatalog{
		store:  &sqlToolStore{db: cfg.DB},
		cache:  newToolCache(ttl),
		logger: cfg.Logger,
	}
}

// newPostgresCatalogWithStore creates a catalog with a custom store (for testing).
func newPostgresCatalogWithStore(store ToolStore, cacheTTL time.Duration, logger *zap.Logger) *PostgresCatalog {
	if cacheTTL == 0 {
		cacheTTL = 60 * time.Second
	}
	return &PostgresCatalog{
		store:  store,
		cache:  newToolCache(cacheTTL),
		logger: logger,
	}
}

func (c *PostgresCatalog) GetTool(ctx context.Context, toolKey string) (*ToolDefinition, error) {
	cacheResult := c.cache.Get(toolKey)
	if cacheResult.Hit {
		if cacheResult.NeedsRefresh {
			go c.refreshInBackground(toolKey)
		}
		return cacheResult.Tool, nil
	}

	// Cache miss — fetch from DB
	td, err := c.fetchFromDB(ctx, toolKey)
	if err != nil {
		if err == sql.ErrNoRows {
			// Negative cache: tool not found
			c.cache.Set(toolKey, nil)
			return nil, nil
		}
		return nil, fmt.Errorf("GetTool: %w", err)
	}

	c.cache.Set(toolKey, td)
	return td, nil
}

func (c *PostgresCatalog) fetchFromDB(ctx context.Context, toolKey string) (*ToolDefinition, error) {
	row, err := c.store.LookupTool(ctx, toolKey)
	if err != nil {
		return nil, err
	}
	return parseToolRow(row)
}

func (c *PostgresCatalog) refreshInBackground(toolKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	td, err := c.fetchFromDB(ctx, toolKey)
	if err != nil {
		c.logger.Warn("background catalog refresh failed",
			zap.String("tool_key", toolKey),
			zap.Error(err),
		)
		return
	}
	c.cache.Set(toolKey, td)
}

func parseToolRow(row *toolRow) (*ToolDefinition, error) {
	risk, err := ParseRiskLevel(row.RiskLevel)
	if err != nil {
		return nil, fmt.Errorf("parseToolRow: %w", err)
	}

	td := &ToolDefinition{
		Key:              row.Key,
		Name:             row.Name,
		Module:           row.Module,
		RiskLevel:        risk,
		RequiresApproval: row.RequiresApproval,
		Active:           row.Active,
	}

	// Parse approval_trigger_fields (JSONB array)
	if row.ApprovalTriggerFields != "" && row.ApprovalTriggerFields != "[]" {
		if err := json.Unmarshal([]byte(row.ApprovalTriggerFields), &td.ApprovalTriggerFields); err != nil {
			return nil, fmt.Errorf("parseToolRow: approval_trigger_fields: %w", err)
		}
	}

	// Parse sensitive_fields (JSONB array)
	if row.SensitiveFields != "" && row.SensitiveFields != "[]" {
		if err := json.Unmarshal([]byte(row.SensitiveFields), &td.SensitiveFields); err != nil {
			return nil, fmt.Errorf("parseToolRow: sensitive_fields: %w", err)
		}
	}

	// Parse request_schema (JSONB object)
	if row.RequestSchema.Valid && row.RequestSchema.String != "" && row.RequestSchema.String != "{}" {
		var schema map[string]any
		if err := json.Unmarshal([]byte(row.RequestSchema.String), &schema); err != nil {
			return nil, fmt.Errorf("parseToolRow: request_schema: %w", err)
		}
		td.RequestSchema = schema
	}

	return td, nil
}
