// Package telemetry is the cost/trust ledger: one record per governed call,
// proving which answers were deterministic versus model-generated.
//
// It is the only component allowed to degrade silently, and only for its
// own storage, never for the operation it wraps.
package telemetry

import "time"

// Outcome classifies how a governed call ended.
type Outcome string

const (
	OutcomeSuccess             Outcome = "success"
	OutcomeNoRulesFound        Outcome = "no_rules_found"
	OutcomeRulesFilteredNoCite Outcome = "rules_filtered_no_citations"
	OutcomeInsufficientData    Outcome = "insufficient_data"
	OutcomeError               Outcome = "error"
)

// Record is one telemetry entry for a tool invocation or knowledge query.
type Record struct {
	Name      string // tool key or knowledge query name
	UsedModel bool
	ModelID   string
	TenantID  string
	ActorID   string
	Duration  time.Duration
	Outcome   Outcome
	ErrorCode string
	TokensIn  int64
	TokensOut int64
	At        time.Time
}

// Ledger accepts telemetry records. Record must never block or fail the
// caller; implementations fall back to a structured log entry when their
// own storage misbehaves.
type Ledger interface {
	Record(rec *Record)
	Close()
}
