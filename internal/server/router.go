// Package server exposes the guardrail engine and knowledge registry over
// an HTTP JSON API for the orchestration layer.
package server

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/brightclass/steward/internal/guardrail"
	"github.com/brightclass/steward/internal/knowledge"
	"github.com/brightclass/steward/internal/telemetry"
	"github.com/brightclass/steward/internal/tenant"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Engine    *guardrail.Engine
	Registry  *knowledge.Registry
	Telemetry telemetry.Ledger
	Auth      tenant.Authenticator
	Logger    *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/agent/tools/submit", deps.authMiddleware(deps.handleSubmit))
	mux.HandleFunc("POST /v1/agent/tools/{pending_id}/approve", deps.authMiddleware(deps.handleApprove))
	mux.HandleFunc("POST /v1/agent/tools/{pending_id}/reject", deps.authMiddleware(deps.handleReject))
	mux.HandleFunc("GET /v1/agent/tools/pending", deps.authMiddleware(deps.handleListPending))
	mux.HandleFunc("GET /v1/agent/tools/{invocation_id}", deps.authMiddleware(deps.handleGetRecord))

	mux.HandleFunc("POST /v1/agent/knowledge/query", deps.authMiddleware(deps.handleKnowledgeQuery))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return requestLogging(mux, deps.Logger)
}

// writeTaxonomyError maps guardrail taxonomy errors to HTTP statuses.
func writeTaxonomyError(w http.ResponseWriter, err error) {
	var ge *guardrail.Error
	if !errors.As(err, &ge) {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Code: "internal", Detail: "internal error"})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(ge, guardrail.ErrDefinitionNotFound),
		errors.Is(ge, guardrail.ErrRecordNotFound):
		status = http.StatusNotFound
	case errors.Is(ge, guardrail.ErrDefinitionInactive),
		errors.Is(ge, guardrail.ErrAlreadyResolved),
		errors.Is(ge, guardrail.ErrRiskEscalated):
		status = http.StatusConflict
	case errors.Is(ge, guardrail.ErrTenantMismatch):
		status = http.StatusForbidden
	case errors.Is(ge, guardrail.ErrValidation):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, ErrorResp{Code: ge.Code(), Detail: ge.Error()})
}
