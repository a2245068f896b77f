package ledger

import "context"

// Store persists invocation records and their retained request payloads.
//
// BeginExecution and Reject are compare-and-set transitions on the record's
// current state: the boolean result is false when the record was not in
// pending_approval, so exactly one caller of a concurrent pair can proceed.
// Mutations are scoped by tenant in the storage predicate itself; a wrong
// tenant behaves exactly like a resolved record.
type Store interface {
	// Create persists a new record. The record must be in
	// StatePendingApproval; this write precedes any execution attempt.
	Create(ctx context.Context, rec *InvocationRecord) error

	// Get returns a record by id, or ErrNotFound. Tenant membership is
	// checked by the caller (the engine fails closed before acting on a
	// record from another tenant).
	Get(ctx context.Context, id string) (*InvocationRecord, error)

	// ListPending returns the tenant's unresolved records, oldest first.
	ListPending(ctx context.Context, tenantID string) ([]*InvocationRecord, error)

	// BeginExecution atomically moves pending_approval → executing.
	// Returns false if the record was not pending (race already lost).
	// approverID is recorded when non-empty.
	BeginExecution(ctx context.Context, tenantID, id, approverID string) (bool, error)

	// Resolve moves executing → success|error and stamps ResolvedAt.
	Resolve(ctx context.Context, tenantID, id string, state State, sanitizedResponse map[string]any, errMsg string) error

	// Reject atomically moves pending_approval → error without executing,
	// recording the approver and reason. Returns false if not pending.
	// The retained payload is dropped.
	Reject(ctx context.Context, tenantID, id, approverID, reason string) (bool, error)

	// SavePending retains the original, unredacted request for a record
	// awaiting approval. Held apart from the audit row and access-controlled;
	// removed at resolution.
	SavePending(ctx context.Context, tenantID, id string, original map[string]any) error

	// TakePending returns and removes the retained request.
	TakePending(ctx context.Context, tenantID, id string) (map[string]any, error)
}
