package server

import (
	"time"

	"github.com/brightclass/steward/internal/knowledge"
	"github.com/brightclass/steward/internal/ledger"
)

// --- POST /v1/agent/tools/submit ---

// SubmitRequest is the JSON body for a tool invocation.
type SubmitRequest struct {
	ToolKey string         `json:"tool_key"`
	ActorID string         `json:"actor_id,omitempty"` // used when the API key is tenant-scoped
	Request map[string]any `json:"request"`
}

// ResultResp is the JSON shape of a completed execution.
type ResultResp struct {
	InvocationID string         `json:"invocation_id"`
	Success      bool           `json:"success"`
	State        string         `json:"state"`
	Response     map[string]any `json:"response,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// SubmitResponse covers both the immediate and the approval-gated path.
type SubmitResponse struct {
	ApprovalRequired bool        `json:"approval_required"`
	PendingID        string      `json:"pending_id,omitempty"`
	Reason           string      `json:"reason,omitempty"`
	Result           *ResultResp `json:"result,omitempty"`
}

// --- approve / reject ---

type RejectRequest struct {
	Reason string `json:"reason"`
}

// --- pending list / record ---

type RecordResp struct {
	ID                string         `json:"id"`
	TenantID          string         `json:"tenant_id"`
	ActorID           string         `json:"actor_id,omitempty"`
	ToolKey           string         `json:"tool_key"`
	RiskLevel         string         `json:"risk_level"`
	State             string         `json:"state"`
	SanitizedRequest  map[string]any `json:"sanitized_request,omitempty"`
	SanitizedResponse map[string]any `json:"sanitized_response,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	RequestedAt       time.Time      `json:"requested_at"`
	ResolvedAt        *time.Time     `json:"resolved_at,omitempty"`
	ApproverID        string         `json:"approver_id,omitempty"`
	ApprovedAt        *time.Time     `json:"approved_at,omitempty"`
}

func recordResp(rec *ledger.InvocationRecord) RecordResp {
	return RecordResp{
		ID:                rec.ID,
		TenantID:          rec.TenantID,
		ActorID:           rec.ActorID,
		ToolKey:           rec.ToolKey,
		RiskLevel:         string(rec.RiskLevel),
		State:             string(rec.State),
		SanitizedRequest:  rec.SanitizedRequest,
		SanitizedResponse: rec.SanitizedResponse,
		ErrorMessage:      rec.ErrorMessage,
		RequestedAt:       rec.RequestedAt,
		ResolvedAt:        rec.ResolvedAt,
		ApproverID:        rec.ApproverID,
		ApprovedAt:        rec.ApprovedAt,
	}
}

// --- POST /v1/agent/knowledge/query ---

type QueryRequest struct {
	Domain  string            `json:"domain"`
	Topic   string            `json:"topic"`
	PackID  string            `json:"pack_id,omitempty"`
	Context map[string]string `json:"context,omitempty"`
}

type CitationResp struct {
	Source    string `json:"source"`
	Section   string `json:"section,omitempty"`
	Page      int    `json:"page,omitempty"`
	Quote     string `json:"quote,omitempty"`
	URL       string `json:"url,omitempty"`
	Authority string `json:"authority"`
}

type RuleResp struct {
	ID          string         `json:"id"`
	Topic       string         `json:"topic"`
	AppliesWhen string         `json:"applies_when,omitempty"`
	Advisory    string         `json:"advisory"`
	Authority   string         `json:"authority"`
	Citations   []CitationResp `json:"citations"`
}

type PackResp struct {
	ID            string `json:"id"`
	Domain        string `json:"domain"`
	Title         string `json:"title"`
	Version       string `json:"version"`
	EffectiveDate string `json:"effective_date,omitempty"`
	ReviewByDate  string `json:"review_by_date,omitempty"`
	Confidence    string `json:"confidence"`
	SourceURL     string `json:"source_url,omitempty"`
	SupersededBy  string `json:"superseded_by,omitempty"`
}

type QueryResponse struct {
	Rules                 []RuleResp `json:"rules"`
	Pack                  *PackResp  `json:"pack,omitempty"`
	Warnings              []string   `json:"warnings"`
	RetrievedAt           time.Time  `json:"retrieved_at"`
	MissingCitationsCount int        `json:"missing_citations_count"`
	MissingRuleIDs        []string   `json:"missing_rule_ids,omitempty"`
	MissingRuleTopics     []string   `json:"missing_rule_topics,omitempty"`
	CitationFilterMessage string     `json:"citation_filter_message,omitempty"`
}

func queryResponse(res *knowledge.QueryResult) QueryResponse {
	out := QueryResponse{
		Rules:                 make([]RuleResp, 0, len(res.Rules)),
		Warnings:              res.Warnings,
		RetrievedAt:           res.RetrievedAt,
		MissingCitationsCount: res.MissingCitationsCount,
		MissingRuleIDs:        res.MissingRuleIDs,
		MissingRuleTopics:     res.MissingRuleTopics,
		CitationFilterMessage: res.CitationFilterMessage,
	}
	if out.Warnings == nil {
		out.Warnings = []string{}
	}
	for _, rule := range res.Rules {
		citations := make([]CitationResp, 0, len(rule.Citations))
		for _, c := range rule.Citations {
			citations = append(citations, CitationResp{
				Source:    c.Source,
				Section:   c.Section,
				Page:      c.Page,
				Quote:     c.Quote,
				URL:       c.URL,
				Authority: string(c.Authority),
			})
		}
		out.Rules = append(out.Rules, RuleResp{
			ID:          rule.ID,
			Topic:       rule.Topic,
			AppliesWhen: rule.AppliesWhen,
			Advisory:    rule.Advisory,
			Authority:   string(rule.AuthorityLevel()),
			Citations:   citations,
		})
	}
	if res.Pack != nil {
		pr := &PackResp{
			ID:           res.Pack.ID,
			Domain:       res.Pack.Domain,
			Title:        res.Pack.Title,
			Version:      res.Pack.Version,
			Confidence:   string(res.Pack.Confidence),
			SourceURL:    res.Pack.SourceURL,
			SupersededBy: res.Pack.SupersededBy,
		}
		if !res.Pack.EffectiveDate.IsZero() {
			pr.EffectiveDate = res.Pack.EffectiveDate.Format("2006-01-02")
		}
		if !res.Pack.ReviewByDate.IsZero() {
			pr.ReviewByDate = res.Pack.ReviewByDate.Format("2006-01-02")
		}
		out.Pack = pr
	}
	return out
}

// ErrorResp is the uniform error body.
type ErrorResp struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}
