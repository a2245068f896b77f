package main

import (
	"context"
	"time"

	"github.com/brightclass/steward/internal/guardrail"
	"github.com/brightclass/steward/internal/tenant"
)

// registerBuiltinHandlers binds the handlers shipped with the server
// binary. Real deployments register platform tool handlers here; the echo
// tool stays available for smoke-testing the approval pipeline end to end.
func registerBuiltinHandlers(engine *guardrail.Engine) {
	engine.RegisterHandler("platform.echo", guardrail.HandlerFunc(
		func(_ context.Context, request map[string]any, tc tenant.Context) (map[string]any, error) {
			return map[string]any{
				"echo":      request,
				"tenant_id": tc.TenantID,
				"at":        time.Now().UTC().Format(time.RFC3339),
			}, nil
		}))
}
