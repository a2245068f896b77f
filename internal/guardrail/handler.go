package guardrail

import (
	"context"

	"github.com/brightclass/steward/internal/tenant"
)

// Handler performs a tool's business logic. Handlers are registered by the
// hosting application and treated as untrusted-but-cooperative: errors and
// panics are captured into the audit record, never propagated to the
// caller of the engine.
type Handler interface {
	Execute(ctx context.Context, request map[string]any, tc tenant.Context) (map[string]any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, request map[string]any, tc tenant.Context) (map[string]any, error)

func (f HandlerFunc) Execute(ctx context.Context, request map[string]any, tc tenant.Context) (map[string]any, error) {
	return f(ctx, request, tc)
}
