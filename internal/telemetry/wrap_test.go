package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type captureLedger struct {
	mu      sync.Mutex
	records []*Record
}

func (l *captureLedger) Record(rec *Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

func (l *captureLedger) Close() {}

func (l *captureLedger) all() []*Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Record(nil), l.records...)
}

type codedErr struct{ code string }

func (e codedErr) Error() string { return e.code }
func (e codedErr) Code() string  { return e.code }

// outcomeResult overrides the success classification.
type outcomeResult struct{ outcome Outcome }

func (r outcomeResult) TelemetryOutcome() Outcome { return r.outcome }

func TestWrap_Success(t *testing.T) {
	cap := &captureLedger{}
	got, err := Wrap(context.Background(), cap, "knowledge:attendance", false, "trust-1", "agent",
		func(context.Context) (string, error) { return "ok", nil })
	if err != nil || got != "ok" {
		t.Fatalf("got %q, %v", got, err)
	}

	recs := cap.all()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.Outcome != OutcomeSuccess || rec.ErrorCode != "" {
		t.Fatalf("record: %+v", rec)
	}
	if rec.Name != "knowledge:attendance" || rec.TenantID != "trust-1" || rec.ActorID != "agent" {
		t.Fatalf("record: %+v", rec)
	}
	if rec.UsedModel {
		t.Fatal("used_model must reflect the argument")
	}
	if rec.Duration < 0 {
		t.Fatalf("duration: %v", rec.Duration)
	}
}

func TestWrap_ErrorRecordsCode(t *testing.T) {
	cap := &captureLedger{}
	wantErr := codedErr{code: "definition_not_found"}
	_, err := Wrap(context.Background(), cap, "op", false, "t", "a",
		func(context.Context) (int, error) { return 0, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("error not propagated: %v", err)
	}

	recs := cap.all()
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].Outcome != OutcomeError || recs[0].ErrorCode != "definition_not_found" {
		t.Fatalf("record: %+v", recs[0])
	}
}

func TestWrap_UncodedErrorIsInternal(t *testing.T) {
	cap := &captureLedger{}
	_, _ = Wrap(context.Background(), cap, "op", false, "t", "a",
		func(context.Context) (int, error) { return 0, errors.New("boom") })
	if recs := cap.all(); recs[0].ErrorCode != "internal" {
		t.Fatalf("error code: %s", recs[0].ErrorCode)
	}
}

func TestWrap_ContextErrors(t *testing.T) {
	cap := &captureLedger{}
	_, _ = Wrap(context.Background(), cap, "op", false, "t", "a",
		func(context.Context) (int, error) { return 0, context.DeadlineExceeded })
	_, _ = Wrap(context.Background(), cap, "op", false, "t", "a",
		func(context.Context) (int, error) { return 0, context.Canceled })

	recs := cap.all()
	if recs[0].ErrorCode != "deadline_exceeded" || recs[1].ErrorCode != "canceled" {
		t.Fatalf("codes: %s, %s", recs[0].ErrorCode, recs[1].ErrorCode)
	}
}

func TestWrap_PanicRecordsThenRepanics(t *testing.T) {
	cap := &captureLedger{}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("panic must be re-raised")
		}
		recs := cap.all()
		if len(recs) != 1 {
			t.Fatalf("expected 1 record, got %d", len(recs))
		}
		if recs[0].Outcome != OutcomeError || recs[0].ErrorCode != "panic" {
			t.Fatalf("record: %+v", recs[0])
		}
	}()

	_, _ = Wrap(context.Background(), cap, "op", true, "t", "a",
		func(context.Context) (int, error) { panic("boom") })
}

func TestWrap_OutcomerOverride(t *testing.T) {
	cap := &captureLedger{}
	_, err := Wrap(context.Background(), cap, "op", false, "t", "a",
		func(context.Context) (outcomeResult, error) {
			return outcomeResult{outcome: OutcomeNoRulesFound}, nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if recs := cap.all(); recs[0].Outcome != OutcomeNoRulesFound {
		t.Fatalf("outcome: %s", recs[0].Outcome)
	}
}

func TestClassify(t *testing.T) {
	if o, code := Classify(nil); o != OutcomeSuccess || code != "" {
		t.Fatalf("nil: %s %s", o, code)
	}
	if o, code := Classify(codedErr{code: "tenant_mismatch"}); o != OutcomeError || code != "tenant_mismatch" {
		t.Fatalf("coded: %s %s", o, code)
	}
	if o, code := Classify(errors.New("x")); o != OutcomeError || code != "internal" {
		t.Fatalf("plain: %s %s", o, code)
	}
}
