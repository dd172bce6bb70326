package service

import (
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/port"
)

type Option func(*TransactionProcessor)

func WithLogger(logger *zap.Logger) Option {
	return func(p *TransactionProcessor) { p.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(p *TransactionProcessor) { p.tracer = tracer }
}

func WithMeter(meter metric.Meter) Option {
	return func(p *TransactionProcessor) { p.meter = meter }
}

// WithIdempotency enables request-id deduplication of RecordSale.
func WithIdempotency(store port.IdempotencyStore) Option {
	return func(p *TransactionProcessor) { p.idempotency = store }
}

// WithNotifier queues every committed audit record on n.
func WithNotifier(n *Notifier) Option {
	return func(p *TransactionProcessor) { p.notifier = n }
}

func WithClock(now func() time.Time) Option {
	return func(p *TransactionProcessor) { p.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(p *TransactionProcessor) { p.newID = newID }
}

// WithMaxAttempts bounds how often a unit of work is retried after a version conflict.
func WithMaxAttempts(n int) Option {
	return func(p *TransactionProcessor) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithOperationTimeout applies d to operations whose context has no deadline.
func WithOperationTimeout(d time.Duration) Option {
	return func(p *TransactionProcessor) { p.timeout = d }
}
