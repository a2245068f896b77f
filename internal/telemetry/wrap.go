package telemetry

import (
	"context"
	"errors"
	"time"
)

// Outcomer lets a result override the default success classification.
// The knowledge registry uses this to report no_rules_found and
// rules_filtered_no_citations on otherwise error-free queries.
type Outcomer interface {
	TelemetryOutcome() Outcome
}

// coded is implemented by taxonomy errors that carry a stable code.
type coded interface {
	Code() string
}

// Wrap runs fn, measures its duration, classifies the outcome, and records
// exactly one telemetry entry, including when fn returns an error or
// panics (the panic is re-raised after recording).
func Wrap[T any](ctx context.Context, ledger Ledger, name string, usesModel bool, tenantID, actorID string, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	rec := &Record{
		Name:      name,
		UsedModel: usesModel,
		TenantID:  tenantID,
		ActorID:   actorID,
	}

	recorded := false
	record := func() {
		if recorded {
			return
		}
		recorded = true
		rec.Duration = time.Since(start)
		ledger.Record(rec)
	}

	defer func() {
		if r := recover(); r != nil {
			rec.Outcome = OutcomeError
			rec.ErrorCode = "panic"
			record()
			panic(r)
		}
	}()

	result, err := fn(ctx)
	if err != nil {
		rec.Outcome = OutcomeError
		rec.ErrorCode = errorCode(err)
		record()
		return result, err
	}

	rec.Outcome = OutcomeSuccess
	if o, ok := any(result).(Outcomer); ok {
		rec.Outcome = o.TelemetryOutcome()
	}
	record()
	return result, nil
}

func errorCode(err error) string {
	var ce coded
	if errors.As(err, &ce) {
		return ce.Code()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "deadline_exceeded"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "internal"
}

// Classify maps an operational error to an Outcome/code pair for callers
// that record directly instead of through Wrap.
func Classify(err error) (Outcome, string) {
	if err == nil {
		return OutcomeSuccess, ""
	}
	return OutcomeError, errorCode(err)
}
