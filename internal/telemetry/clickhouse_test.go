package telemetry

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestClickHouseLedger_RecordDeadLettersWhenBufferFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	l := &ClickHouseLedger{
		buffer: make(chan *Record, 1),
		logger: zap.New(core),
	}

	// First record fits the buffer, second must dead-letter without blocking.
	l.Record(&Record{Name: "tool.a", TenantID: "trust-1", Outcome: OutcomeSuccess})

	done := make(chan struct{})
	go func() {
		l.Record(&Record{
			Name:      "tool.b",
			TenantID:  "trust-1",
			Outcome:   OutcomeError,
			ErrorCode: "handler_execution_error",
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full buffer")
	}

	entries := logs.FilterMessage("telemetry dead letter").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["cause"] != "buffer full" {
		t.Fatalf("cause: %v", ctx["cause"])
	}
	// The full record rides along so nothing is silently lost
	if ctx["name"] != "tool.b" || ctx["error_code"] != "handler_execution_error" {
		t.Fatalf("record fields missing from dead letter: %v", ctx)
	}
}

func TestDeadLetterCarriesRecordFields(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	l := &ClickHouseLedger{logger: zap.New(core)}

	l.deadLetter(&Record{
		Name:     "knowledge:attendance/absence",
		TenantID: "trust-1",
		ActorID:  "agent",
		Outcome:  OutcomeSuccess,
	}, "send failed")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["cause"] != "send failed" || ctx["tenant_id"] != "trust-1" {
		t.Fatalf("context: %v", ctx)
	}
}
