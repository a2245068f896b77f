package server

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/brightclass/steward/internal/knowledge"
	"github.com/brightclass/steward/internal/telemetry"
)

// handleKnowledgeQuery implements POST /v1/agent/knowledge/query.
// The deterministic retrieval path: every call is wrapped so the telemetry
// ledger can prove it never touched a model.
func (d *Dependencies) handleKnowledgeQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Code: "validation_error", Detail: "invalid JSON body"})
		return
	}
	if req.Domain == "" || req.Topic == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Code: "validation_error", Detail: "domain and topic are required"})
		return
	}

	tc := d.callerContext(r, "")
	name := "knowledge:" + req.Domain + "/" + req.Topic

	result, err := telemetry.Wrap(r.Context(), d.Telemetry, name, false, tc.TenantID, tc.ActorID,
		func(ctx context.Context) (*knowledge.QueryResult, error) {
			return d.Registry.Query(ctx, req.Domain, req.Topic, knowledge.QueryOptions{
				PackID:  req.PackID,
				Context: req.Context,
			})
		})
	if err != nil {
		if errors.Is(err, knowledge.ErrPackNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResp{Code: "pack_not_found", Detail: err.Error()})
			return
		}
		d.Logger.Error("knowledge query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Code: "internal", Detail: "knowledge query failed"})
		return
	}

	writeJSON(w, http.StatusOK, queryResponse(result))
}
