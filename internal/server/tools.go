package server

import (
	"net/http"

	"github.com/brightclass/steward/internal/guardrail"
	"github.com/brightclass/steward/internal/tenant"
)

// handleSubmit implements POST /v1/agent/tools/submit.
func (d *Dependencies) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Code: "validation_error", Detail: "invalid JSON body"})
		return
	}
	if req.ToolKey == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Code: "validation_error", Detail: "tool_key is required"})
		return
	}

	tc := d.callerContext(r, req.ActorID)
	outcome, err := d.Engine.Submit(r.Context(), tc, req.ToolKey, req.Request)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}

	// Approval-gated invocations answer 202: recorded, not executed.
	if outcome.ApprovalRequired {
		writeJSON(w, http.StatusAccepted, SubmitResponse{
			ApprovalRequired: true,
			PendingID:        outcome.PendingID,
			Reason:           outcome.Reason,
		})
		return
	}

	writeJSON(w, http.StatusOK, SubmitResponse{Result: resultResp(outcome)})
}

// handleApprove implements POST /v1/agent/tools/{pending_id}/approve.
func (d *Dependencies) handleApprove(w http.ResponseWriter, r *http.Request) {
	pendingID := r.PathValue("pending_id")
	tc := d.callerContext(r, "")

	outcome, err := d.Engine.Approve(r.Context(), tc, pendingID)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SubmitResponse{Result: resultResp(outcome)})
}

// handleReject implements POST /v1/agent/tools/{pending_id}/reject.
func (d *Dependencies) handleReject(w http.ResponseWriter, r *http.Request) {
	pendingID := r.PathValue("pending_id")

	var req RejectRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Code: "validation_error", Detail: "invalid JSON body"})
		return
	}

	tc := d.callerContext(r, "")
	if err := d.Engine.Reject(r.Context(), tc, pendingID, req.Reason); err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected", "pending_id": pendingID})
}

// handleListPending implements GET /v1/agent/tools/pending.
func (d *Dependencies) handleListPending(w http.ResponseWriter, r *http.Request) {
	tc := d.callerContext(r, "")

	recs, err := d.Engine.Pending(r.Context(), tc)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}

	out := make([]RecordResp, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordResp(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": out})
}

// handleGetRecord implements GET /v1/agent/tools/{invocation_id}.
func (d *Dependencies) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("invocation_id")
	tc := d.callerContext(r, "")

	rec, err := d.Engine.Record(r.Context(), tc, id)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResp(rec))
}

// callerContext merges the authenticated tenant with an optional actor
// override for tenant-scoped automation keys.
func (d *Dependencies) callerContext(r *http.Request, actorOverride string) tenant.Context {
	tc := tenantFromContext(r.Context())
	if tc == nil {
		return tenant.Context{}
	}
	out := *tc
	if out.ActorID == "" && actorOverride != "" {
		out.ActorID = actorOverride
	}
	return out
}

func resultResp(outcome *guardrail.Outcome) *ResultResp {
	if outcome == nil || outcome.Result == nil {
		return nil
	}
	return &ResultResp{
		InvocationID: outcome.Result.InvocationID,
		Success:      outcome.Result.Success,
		State:        string(outcome.Result.State),
		Response:     outcome.Result.Response,
		ErrorMessage: outcome.Result.ErrorMessage,
	}
}
