package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

const instrumentationName = "github.com/rl1809/stock-ledger/internal/core/service"

type instruments struct {
	transactions metric.Int64Counter
	duration     metric.Float64Histogram
}

func newInstruments(meter metric.Meter, logger *zap.Logger) instruments {
	transactions, err := meter.Int64Counter("ledger.transactions",
		metric.WithDescription("Ledger operations by kind and outcome"))
	if err != nil {
		logger.Warn("ledger.transactions counter unavailable", zap.Error(err))
		transactions, _ = noop.Meter{}.Int64Counter("ledger.transactions")
	}
	duration, err := meter.Float64Histogram("ledger.operation.duration",
		metric.WithDescription("Ledger operation latency"),
		metric.WithUnit("s"))
	if err != nil {
		logger.Warn("ledger.operation.duration histogram unavailable", zap.Error(err))
		duration, _ = noop.Meter{}.Float64Histogram("ledger.operation.duration")
	}
	return instruments{transactions: transactions, duration: duration}
}

// outcome classifies err for metrics and logs.
func outcome(err error) string {
	var validation *domain.ValidationError
	var insufficient *domain.InsufficientStockError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &validation):
		return "invalid"
	case errors.As(err, &insufficient):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrDuplicateRequest):
		return "duplicate"
	case errors.Is(err, domain.ErrSaleReversed):
		return "reversed"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, domain.ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	}
	return "error"
}

// observe wraps one processor operation in a span, a log line and metrics.
func (p *TransactionProcessor) observe(ctx context.Context, op string, key domain.StockKey, fn func(ctx context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(
		attribute.Int64("ledger.seller_id", key.SellerID),
		attribute.Int64("ledger.product_id", key.ProductID),
	))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	result := outcome(err)

	attrs := metric.WithAttributes(attribute.String("operation", op), attribute.String("outcome", result))
	p.instruments.transactions.Add(ctx, 1, attrs)
	p.instruments.duration.Record(ctx, time.Since(start).Seconds(), attrs)

	fields := []zap.Field{zap.String("operation", op), zap.Stringer("key", key), zap.String("outcome", result)}
	switch result {
	case "ok":
		span.SetStatus(codes.Ok, "")
		p.logger.Debug("ledger operation committed", fields...)
	case "invariant_violation", "error":
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error("ledger operation failed", append(fields, zap.Error(err))...)
	default:
		span.SetAttributes(attribute.String("ledger.rejection", result))
		span.SetStatus(codes.Error, err.Error())
		p.logger.Info("ledger operation rejected", append(fields, zap.Error(err))...)
	}
	return err
}
