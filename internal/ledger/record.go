// Package ledger is the durable audit trail of tool invocations.
//
// Every submission writes a record before any side effect runs, and records
// only ever move forward: pending_approval → executing → success or error.
// Records are never deleted; they are the compliance trail.
package ledger

import (
	"errors"
	"time"

	"github.com/brightclass/steward/internal/catalog"
)

// State is the lifecycle state of an invocation record.
type State string

const (
	StatePendingApproval State = "pending_approval"
	StateExecuting       State = "executing"
	StateSuccess         State = "success"
	StateError           State = "error"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("invocation record not found")

// InvocationRecord is one tool invocation's audit entry.
// SanitizedRequest and SanitizedResponse have already been through
// structural redaction; the unredacted request is held separately (see
// Store.SavePending) and only until resolution.
type InvocationRecord struct {
	ID                string
	TenantID          string
	ActorID           string // empty for fully automated invocations
	ToolKey           string
	RiskLevel         catalog.RiskLevel // snapshot at submission time
	State             State
	SanitizedRequest  map[string]any
	SanitizedResponse map[string]any
	ErrorMessage      string
	RequestedAt       time.Time
	ResolvedAt        *time.Time
	ApproverID        string
	ApprovedAt        *time.Time
}
