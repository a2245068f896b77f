package guardrail

import "fmt"

// Error is a taxonomy error with a stable machine-readable code.
// Compare with errors.Is against the sentinel values below; codes match
// when messages differ (wrapped detail).
type Error struct {
	code    string
	message string
	cause   error
}

func (e *Error) Error() string { return e.message }

// Code returns the stable error code (also consumed by telemetry).
func (e *Error) Code() string { return e.code }

func (e *Error) Unwrap() error { return e.cause }

// Is matches on code so detailed instances compare equal to sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.code == e.code
}

// Taxonomy sentinels.
var (
	ErrDefinitionNotFound = &Error{code: "definition_not_found", message: "tool is not in the catalog"}
	ErrRecordNotFound     = &Error{code: "record_not_found", message: "invocation record not found"}
	ErrDefinitionInactive = &Error{code: "definition_inactive", message: "tool is disabled in the catalog"}
	ErrAlreadyResolved    = &Error{code: "already_resolved", message: "invocation is no longer pending approval"}
	ErrTenantMismatch     = &Error{code: "tenant_mismatch", message: "caller tenant does not own this invocation"}
	ErrRiskEscalated      = &Error{code: "risk_escalated", message: "tool risk level escalated since submission; resubmit for approval"}
	ErrValidation         = &Error{code: "validation_error", message: "request shape is invalid"}
	ErrPersistence        = &Error{code: "persistence_failure", message: "audit ledger write failed"}
)

func validationError(detail string) *Error {
	return &Error{code: ErrValidation.code, message: "invalid request: " + detail}
}

func persistenceError(op string, cause error) *Error {
	return &Error{
		code:    ErrPersistence.code,
		message: fmt.Sprintf("audit ledger %s failed", op),
		cause:   cause,
	}
}
