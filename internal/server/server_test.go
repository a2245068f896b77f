package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/brightclass/steward/internal/catalog"
	"github.com/brightclass/steward/internal/guardrail"
	"github.com/brightclass/steward/internal/knowledge"
	"github.com/brightclass/steward/internal/ledger"
	"github.com/brightclass/steward/internal/telemetry"
	"github.com/brightclass/steward/internal/tenant"
)

type staticCatalog map[string]*catalog.ToolDefinition

func (c staticCatalog) GetTool(_ context.Context, toolKey string) (*catalog.ToolDefinition, error) {
	td, ok := c[toolKey]
	if !ok {
		return nil, nil
	}
	cp := *td
	return &cp, nil
}

type captureLedger struct {
	mu      sync.Mutex
	records []*telemetry.Record
}

func (l *captureLedger) Record(rec *telemetry.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

func (l *captureLedger) Close() {}

func (l *captureLedger) all() []*telemetry.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*telemetry.Record(nil), l.records...)
}

func testServer(t *testing.T) (http.Handler, *captureLedger) {
	t.Helper()

	cat := staticCatalog{
		"comms.send_letter": {
			Key:                   "comms.send_letter",
			Name:                  "Send letter home",
			Module:                "comms",
			RiskLevel:             catalog.RiskMedium,
			RequiresApproval:      true,
			ApprovalTriggerFields: []string{"recipient_all"},
			SensitiveFields:       []string{"ssn"},
			Active:                true,
		},
		"finance.refund": {
			Key:       "finance.refund",
			Name:      "Issue refund",
			Module:    "finance",
			RiskLevel: catalog.RiskHigh,
			Active:    true,
		},
	}

	tele := &captureLedger{}
	eng := guardrail.NewEngine(guardrail.Config{
		Catalog:   cat,
		Store:     ledger.NewMemoryStore(),
		Telemetry: tele,
		Logger:    zap.NewNop(),
	})
	eng.RegisterHandler("comms.send_letter", guardrail.HandlerFunc(
		func(_ context.Context, req map[string]any, _ tenant.Context) (map[string]any, error) {
			return map[string]any{"sent": true}, nil
		}))
	eng.RegisterHandler("finance.refund", guardrail.HandlerFunc(
		func(_ context.Context, req map[string]any, _ tenant.Context) (map[string]any, error) {
			return map[string]any{"refunded": true}, nil
		}))

	src := knowledge.NewMemorySource()
	src.AddPack(&knowledge.Pack{
		ID:            "attendance-v1",
		Domain:        "attendance",
		Version:       "1.0",
		EffectiveDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Confidence:    knowledge.ConfidenceHigh,
		SourceURL:     "https://example.gov.uk/attendance",
	}, []knowledge.Rule{{
		ID:       "r-1",
		PackID:   "attendance-v1",
		Topic:    "unexplained absence",
		Advisory: "Follow up on the first day of absence.",
		Citations: []knowledge.Citation{{
			Source:    "Attendance guidance",
			Authority: knowledge.AuthorityStatutory,
		}},
	}})

	deps := &Dependencies{
		Engine:    eng,
		Registry:  knowledge.NewRegistry(src, zap.NewNop()),
		Telemetry: tele,
		Auth:      tenant.NewStaticAuthenticator(),
		Logger:    zap.NewNop(),
	}
	return NewRouter(deps), tele
}

func doJSON(t *testing.T, h http.Handler, method, path, tenantID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer bsk_testkey1")
	req.Header.Set("X-Tenant-ID", tenantID)
	req.Header.Set("X-Actor-ID", "agent")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestSubmit_RequiresAuth(t *testing.T) {
	h, _ := testServer(t)

	req := httptest.NewRequest("POST", "/v1/agent/tools/submit", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status: %d", rr.Code)
	}
	resp := decode[ErrorResp](t, rr)
	if resp.Code != "unauthenticated" {
		t.Fatalf("code: %s", resp.Code)
	}
}

func TestSubmit_ImmediatePath(t *testing.T) {
	h, tele := testServer(t)

	rr := doJSON(t, h, "POST", "/v1/agent/tools/submit", "trust-1", SubmitRequest{
		ToolKey: "comms.send_letter",
		Request: map[string]any{"pupil_id": "p-1"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", rr.Code, rr.Body.String())
	}
	resp := decode[SubmitResponse](t, rr)
	if resp.ApprovalRequired || resp.Result == nil || !resp.Result.Success {
		t.Fatalf("response: %+v", resp)
	}
	if resp.Result.Response["sent"] != true {
		t.Fatalf("handler response missing: %+v", resp.Result)
	}

	recs := tele.all()
	if len(recs) != 1 || recs[0].UsedModel {
		t.Fatalf("telemetry: %+v", recs)
	}
}

func TestSubmit_ApprovalFlow(t *testing.T) {
	h, _ := testServer(t)

	// High-risk tool answers 202 with a pending id
	rr := doJSON(t, h, "POST", "/v1/agent/tools/submit", "trust-1", SubmitRequest{
		ToolKey: "finance.refund",
		Request: map[string]any{"amount": 25.0},
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status: %d body: %s", rr.Code, rr.Body.String())
	}
	resp := decode[SubmitResponse](t, rr)
	if !resp.ApprovalRequired || resp.PendingID == "" || resp.Reason == "" {
		t.Fatalf("response: %+v", resp)
	}

	// It shows up in the pending list
	rr = doJSON(t, h, "GET", "/v1/agent/tools/pending", "trust-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d", rr.Code)
	}
	pending := decode[map[string][]RecordResp](t, rr)
	if len(pending["pending"]) != 1 || pending["pending"][0].ID != resp.PendingID {
		t.Fatalf("pending: %+v", pending)
	}

	// Approve executes it
	rr = doJSON(t, h, "POST", "/v1/agent/tools/"+resp.PendingID+"/approve", "trust-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", rr.Code, rr.Body.String())
	}
	approved := decode[SubmitResponse](t, rr)
	if approved.Result == nil || !approved.Result.Success {
		t.Fatalf("response: %+v", approved)
	}

	// Second approve conflicts
	rr = doJSON(t, h, "POST", "/v1/agent/tools/"+resp.PendingID+"/approve", "trust-1", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status: %d", rr.Code)
	}

	// Record reflects the terminal state
	rr = doJSON(t, h, "GET", "/v1/agent/tools/"+resp.PendingID, "trust-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d", rr.Code)
	}
	rec := decode[RecordResp](t, rr)
	if rec.State != "success" || rec.ApproverID != "agent" {
		t.Fatalf("record: %+v", rec)
	}
}

func TestSubmit_RejectFlow(t *testing.T) {
	h, _ := testServer(t)

	rr := doJSON(t, h, "POST", "/v1/agent/tools/submit", "trust-1", SubmitRequest{
		ToolKey: "finance.refund",
		Request: map[string]any{"amount": 25.0},
	})
	resp := decode[SubmitResponse](t, rr)

	// Reject without a reason is a 400
	rr = doJSON(t, h, "POST", "/v1/agent/tools/"+resp.PendingID+"/reject", "trust-1", RejectRequest{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", rr.Code)
	}

	rr = doJSON(t, h, "POST", "/v1/agent/tools/"+resp.PendingID+"/reject", "trust-1",
		RejectRequest{Reason: "duplicate"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", rr.Code, rr.Body.String())
	}

	// Approval after rejection conflicts
	rr = doJSON(t, h, "POST", "/v1/agent/tools/"+resp.PendingID+"/approve", "trust-1", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status: %d", rr.Code)
	}
}

func TestStatusMapping(t *testing.T) {
	h, _ := testServer(t)

	// Unknown tool
	rr := doJSON(t, h, "POST", "/v1/agent/tools/submit", "trust-1", SubmitRequest{
		ToolKey: "no.such.tool",
		Request: map[string]any{},
	})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown tool status: %d", rr.Code)
	}
	if resp := decode[ErrorResp](t, rr); resp.Code != "definition_not_found" {
		t.Fatalf("code: %s", resp.Code)
	}

	// Unknown record
	rr = doJSON(t, h, "GET", "/v1/agent/tools/not-a-real-id", "trust-1", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown record status: %d", rr.Code)
	}

	// Missing tool_key
	rr = doJSON(t, h, "POST", "/v1/agent/tools/submit", "trust-1", SubmitRequest{
		Request: map[string]any{},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing tool_key status: %d", rr.Code)
	}
}

func TestCrossTenantAccessForbidden(t *testing.T) {
	h, _ := testServer(t)

	rr := doJSON(t, h, "POST", "/v1/agent/tools/submit", "trust-1", SubmitRequest{
		ToolKey: "finance.refund",
		Request: map[string]any{"amount": 25.0},
	})
	resp := decode[SubmitResponse](t, rr)

	// Another tenant cannot see, approve, or reject it
	rr = doJSON(t, h, "GET", "/v1/agent/tools/"+resp.PendingID, "trust-2", nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("get status: %d", rr.Code)
	}
	rr = doJSON(t, h, "POST", "/v1/agent/tools/"+resp.PendingID+"/approve", "trust-2", nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("approve status: %d", rr.Code)
	}
	rr = doJSON(t, h, "GET", "/v1/agent/tools/pending", "trust-2", nil)
	pending := decode[map[string][]RecordResp](t, rr)
	if len(pending["pending"]) != 0 {
		t.Fatalf("pending leaked: %+v", pending)
	}
}

func TestKnowledgeQueryEndpoint(t *testing.T) {
	h, tele := testServer(t)

	rr := doJSON(t, h, "POST", "/v1/agent/knowledge/query", "trust-1", QueryRequest{
		Domain: "attendance",
		Topic:  "unexplained absence",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", rr.Code, rr.Body.String())
	}
	resp := decode[QueryResponse](t, rr)
	if len(resp.Rules) != 1 || resp.Rules[0].ID != "r-1" {
		t.Fatalf("rules: %+v", resp.Rules)
	}
	if len(resp.Rules[0].Citations) != 1 {
		t.Fatalf("citations: %+v", resp.Rules[0])
	}
	if resp.Pack == nil || resp.Pack.ID != "attendance-v1" {
		t.Fatalf("pack: %+v", resp.Pack)
	}
	if resp.Warnings == nil {
		t.Fatal("warnings must be an array, not null")
	}

	recs := tele.all()
	if len(recs) != 1 {
		t.Fatalf("telemetry records: %d", len(recs))
	}
	if recs[0].UsedModel {
		t.Fatal("deterministic query recorded used_model=true")
	}
	if recs[0].Outcome != telemetry.OutcomeSuccess {
		t.Fatalf("outcome: %s", recs[0].Outcome)
	}
}

func TestKnowledgeQuery_Validation(t *testing.T) {
	h, _ := testServer(t)

	rr := doJSON(t, h, "POST", "/v1/agent/knowledge/query", "trust-1", QueryRequest{
		Topic: "absence",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", rr.Code)
	}

	rr = doJSON(t, h, "POST", "/v1/agent/knowledge/query", "trust-1", QueryRequest{
		Domain: "attendance",
		Topic:  "absence",
		PackID: "no-such-pack",
	})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status: %d", rr.Code)
	}
	if resp := decode[ErrorResp](t, rr); resp.Code != "pack_not_found" {
		t.Fatalf("code: %s", resp.Code)
	}
}

func TestHealthz(t *testing.T) {
	h, _ := testServer(t)
	req := httptest.NewRequest("GET", "/healthz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d", rr.Code)
	}
}
