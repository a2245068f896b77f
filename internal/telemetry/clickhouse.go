package telemetry

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

// ClickHouseLedger writes telemetry records to ClickHouse asynchronously.
// Record() is non-blocking — entries are buffered and batch-inserted in a
// background goroutine. A full buffer or a failed insert dead-letters the
// record to the structured log instead of surfacing to the caller.
type ClickHouseLedger struct {
	conn    driver.Conn
	buffer  chan *Record
	done    chan struct{}
	flushed chan struct{}
	logger  *zap.Logger
}

// NewClickHouseLedger creates a ClickHouseLedger and starts the flush loop.
func NewClickHouseLedger(dsn string, logger *zap.Logger) (*ClickHouseLedger, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	l := &ClickHouseLedger{
		conn:    conn,
		buffer:  make(chan *Record, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}

	go l.flushLoop()
	return l, nil
}

// Record queues a telemetry record for async insertion.
// Non-blocking: dead-letters the record to the log if the buffer is full.
func (l *ClickHouseLedger) Record(rec *Record) {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	select {
	case l.buffer <- rec:
	default:
		l.deadLetter(rec, "buffer full")
	}
}

// Close signals the flush loop to drain remaining records.
func (l *ClickHouseLedger) Close() {
	close(l.done)
	<-l.flushed
}

func (l *ClickHouseLedger) flushLoop() {
	defer close(l.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*Record, 0, flushBatch)

	for {
		select {
		case rec := <-l.buffer:
			batch = append(batch, rec)
			if len(batch) >= flushBatch {
				l.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = batch[:0]
			}
		case <-l.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case rec := <-l.buffer:
					batch = append(batch, rec)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				l.flush(batch)
			}
			return
		}
	}
}

func (l *ClickHouseLedger) flush(records []*Record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := l.conn.PrepareBatch(ctx, `
		INSERT INTO agent_call_telemetry (
			name, used_model, model_id, tenant_id, actor_id,
			duration_ms, outcome, error_code, tokens_in, tokens_out, recorded_at
		)
	`)
	if err != nil {
		l.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		for _, rec := range records {
			l.deadLetter(rec, "prepare failed")
		}
		return
	}

	for _, rec := range records {
		var usedModel uint8
		if rec.UsedModel {
			usedModel = 1
		}
		if err := batch.Append(
			rec.Name,
			usedModel,
			rec.ModelID,
			rec.TenantID,
			rec.ActorID,
			float32(float64(rec.Duration)/float64(time.Millisecond)),
			string(rec.Outcome),
			rec.ErrorCode,
			rec.TokensIn,
			rec.TokensOut,
			rec.At,
		); err != nil {
			l.deadLetter(rec, "append failed")
		}
	}

	if err := batch.Send(); err != nil {
		l.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(records)),
			zap.Error(err),
		)
		for _, rec := range records {
			l.deadLetter(rec, "send failed")
		}
	}
}

// deadLetter emits the full record to the structured log so nothing is
// silently lost when the sink misbehaves.
func (l *ClickHouseLedger) deadLetter(rec *Record, cause string) {
	fields := append([]zap.Field{zap.String("cause", cause)}, recordFields(rec)...)
	l.logger.Warn("telemetry dead letter", fields...)
}

func recordFields(rec *Record) []zap.Field {
	return []zap.Field{
		zap.String("name", rec.Name),
		zap.Bool("used_model", rec.UsedModel),
		zap.String("model_id", rec.ModelID),
		zap.String("tenant_id", rec.TenantID),
		zap.String("actor_id", rec.ActorID),
		zap.Duration("duration", rec.Duration),
		zap.String("outcome", string(rec.Outcome)),
		zap.String("error_code", rec.ErrorCode),
		zap.Int64("tokens_in", rec.TokensIn),
		zap.Int64("tokens_out", rec.TokensOut),
	}
}

// LogLedger is a fallback Ledger for local development.
type LogLedger struct {
	logger *zap.Logger
}

// NewLogLedger creates a LogLedger that writes records to the given logger.
func NewLogLedger(logger *zap.Logger) *LogLedger {
	return &LogLedger{logger: logger}
}

func (l *LogLedger) Record(rec *Record) {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	l.logger.Info("agent_call_telemetry", recordFields(rec)...)
}

func (l *LogLedger) Close() {}
