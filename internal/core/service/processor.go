package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	defaultMaxAttempts = 3
	lockKeyPrefix      = "ledger:lock:"
)

type AssignRequest struct {
	SellerID  int64
	ProductID int64
	Quantity  int
	Actor     string
	Notes     string
}

type AdjustRequest struct {
	SellerID  int64
	ProductID int64
	Direction domain.Direction
	Quantity  int
	Reason    string
	Actor     string
}

// TransactionProcessor is the only component that changes stock. Every
// operation validates its input, takes the key lock, then reads, checks,
// writes the entry and appends the audit record in a single unit of work.
type TransactionProcessor struct {
	db          port.DatabaseRepository
	catalog     port.Catalog
	locker      port.KeyLocker
	idempotency port.IdempotencyStore
	notifier    *Notifier

	ledger *StockLedger
	audit  *AuditTrail

	logger      *zap.Logger
	tracer      trace.Tracer
	meter       metric.Meter
	instruments instruments

	now         func() time.Time
	newID       func() string
	maxAttempts int
	timeout     time.Duration
}

func NewTransactionProcessor(db port.DatabaseRepository, catalog port.Catalog, locker port.KeyLocker, opts ...Option) *TransactionProcessor {
	p := &TransactionProcessor{
		db:          db,
		catalog:     catalog,
		locker:      locker,
		logger:      zap.NewNop(),
		tracer:      otel.Tracer(instrumentationName),
		meter:       otel.Meter(instrumentationName),
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.ledger = NewStockLedger(db, p.logger)
	p.audit = NewAuditTrail(db)
	p.instruments = newInstruments(p.meter, p.logger)
	return p
}

// Assign adds newly allocated units to a seller, creating the entry on first use.
func (p *TransactionProcessor) Assign(ctx context.Context, req AssignRequest) (domain.StockEntry, error) {
	key := domain.StockKey{SellerID: req.SellerID, ProductID: req.ProductID}

	var entry domain.StockEntry
	err := p.observe(ctx, "assign", key, func(ctx context.Context) error {
		if err := validateKey(key); err != nil {
			return err
		}
		if err := validateQuantity("quantity", req.Quantity); err != nil {
			return err
		}
		if err := p.requireActive(ctx, key); err != nil {
			return err
		}

		var record domain.AuditRecord
		err := p.commit(ctx, key, func(ctx context.Context, tx port.LedgerTx) error {
			now := p.timestamp()
			current, err := p.ledger.forUpdate(ctx, tx, key)
			if err != nil {
				return err
			}
			updated, err := p.ledger.upsertForMutation(ctx, tx, current, req.Quantity, true, now)
			if err != nil {
				return err
			}
			record = domain.AuditRecord{
				TransactionID:  p.newID(),
				Kind:           domain.KindAssignment,
				Key:            key,
				Direction:      domain.DirectionIncrease,
				Quantity:       req.Quantity,
				Notes:          req.Notes,
				Actor:          actorOrDefault(req.Actor),
				Timestamp:      now,
				QuantityBefore: current.CurrentQuantity,
				QuantityAfter:  updated.CurrentQuantity,
			}
			if err := p.audit.append(ctx, tx, &record); err != nil {
				return err
			}
			entry = updated
			return nil
		})
		if err != nil {
			return err
		}
		p.notify(record)
		return nil
	})
	return entry, err
}

// Adjust applies a manual correction to existing stock.
func (p *TransactionProcessor) Adjust(ctx context.Context, req AdjustRequest) (domain.AuditRecord, error) {
	key := domain.StockKey{SellerID: req.SellerID, ProductID: req.ProductID}

	var record domain.AuditRecord
	err := p.observe(ctx, "adjust", key, func(ctx context.Context) error {
		if err := validateKey(key); err != nil {
			return err
		}
		if !req.Direction.Valid() {
			return &domain.ValidationError{Field: "direction", Reason: fmt.Sprintf("must be %q or %q", domain.DirectionIncrease, domain.DirectionDecrease)}
		}
		if err := validateQuantity("quantity", req.Quantity); err != nil {
			return err
		}

		reason := req.Reason
		if reason == "" {
			reason = "manual adjustment"
		}
		return p.adjust(ctx, key, req.Direction, req.Quantity, reason, req.Actor, &record)
	})
	return record, err
}

// SetStock moves the current quantity of key to target, recording the
// difference as an adjustment.
func (p *TransactionProcessor) SetStock(ctx context.Context, key domain.StockKey, target int, reason, actor string) (domain.AuditRecord, error) {
	var record domain.AuditRecord
	err := p.observe(ctx, "set_stock", key, func(ctx context.Context) error {
		if err := validateKey(key); err != nil {
			return err
		}
		if target < 0 {
			return &domain.ValidationError{Field: "quantity", Reason: "must not be negative"}
		}
		if reason == "" {
			reason = "stock count correction"
		}

		err := p.commit(ctx, key, func(ctx context.Context, tx port.LedgerTx) error {
			now := p.timestamp()
			current, err := p.ledger.forUpdate(ctx, tx, key)
			if err != nil {
				return err
			}
			if !current.Exists() {
				return domain.ErrNoStockAssigned
			}

			diff := target - current.CurrentQuantity
			if diff == 0 {
				return &domain.ValidationError{Field: "quantity", Reason: fmt.Sprintf("stock is already %d", target)}
			}
			direction := domain.DirectionIncrease
			if diff < 0 {
				direction = domain.DirectionDecrease
			}
			return p.applyAdjustment(ctx, tx, current, direction, abs(diff), reason, "", actor, now, &record)
		})
		if err != nil {
			return err
		}
		p.notify(record)
		return nil
	})
	return record, err
}

// adjust commits one adjustment of key. Decreases are checked against the
// available quantity.
func (p *TransactionProcessor) adjust(ctx context.Context, key domain.StockKey, direction domain.Direction, quantity int, reason, actor string, out *domain.AuditRecord) error {
	err := p.commit(ctx, key, func(ctx context.Context, tx port.LedgerTx) error {
		now := p.timestamp()
		current, err := p.ledger.forUpdate(ctx, tx, key)
		if err != nil {
			return err
		}
		if !current.Exists() {
			return domain.ErrNoStockAssigned
		}
		if direction == domain.DirectionDecrease {
			if err := checkAvailable(current, quantity); err != nil {
				return err
			}
		}
		return p.applyAdjustment(ctx, tx, current, direction, quantity, reason, "", actor, now, out)
	})
	if err != nil {
		return err
	}
	p.notify(*out)
	return nil
}

func (p *TransactionProcessor) applyAdjustment(ctx context.Context, tx port.LedgerTx, current domain.StockEntry, direction domain.Direction, quantity int, reason, saleID, actor string, now time.Time, out *domain.AuditRecord) error {
	updated, err := p.ledger.upsertForMutation(ctx, tx, current, direction.Sign()*quantity, false, now)
	if err != nil {
		return err
	}
	*out = domain.AuditRecord{
		TransactionID:  p.newID(),
		Kind:           domain.KindAdjustment,
		Key:            current.Key,
		Direction:      direction,
		Quantity:       quantity,
		Reason:         reason,
		SaleID:         saleID,
		Actor:          actorOrDefault(actor),
		Timestamp:      now,
		QuantityBefore: current.CurrentQuantity,
		QuantityAfter:  updated.CurrentQuantity,
	}
	return p.audit.append(ctx, tx, out)
}

// commit runs fn for key under the key lock in one unit of work. Version
// conflicts are retried up to maxAttempts; everything else is returned as is.
func (p *TransactionProcessor) commit(ctx context.Context, key domain.StockKey, fn func(ctx context.Context, tx port.LedgerTx) error) error {
	return p.withKeyLock(ctx, key, func(ctx context.Context) error {
		for attempt := 1; ; attempt++ {
			err := p.db.WithinTransaction(ctx, fn)
			if err == nil || !errors.Is(err, domain.ErrConcurrencyConflict) || attempt >= p.maxAttempts {
				return err
			}
			p.logger.Warn("retrying unit of work after version conflict",
				zap.Stringer("key", key),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
	})
}

// withKeyLock holds the lock for key while fn runs, bounded by the
// operation timeout when the caller set no deadline.
func (p *TransactionProcessor) withKeyLock(ctx context.Context, key domain.StockKey, fn func(ctx context.Context) error) error {
	if p.timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.timeout)
			defer cancel()
		}
	}

	release, err := p.locker.Lock(ctx, lockKeyPrefix+key.String())
	if err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	defer release()

	return fn(ctx)
}

func (p *TransactionProcessor) notify(record domain.AuditRecord) {
	if p.notifier != nil {
		p.notifier.Enqueue(record)
	}
}

// timestamp is truncated to microseconds so it survives a round trip through
// the SQL stores unchanged.
func (p *TransactionProcessor) timestamp() time.Time {
	return p.now().UTC().Truncate(time.Microsecond)
}

func (p *TransactionProcessor) GetStock(ctx context.Context, key domain.StockKey) (domain.StockEntry, error) {
	if err := validateKey(key); err != nil {
		return domain.StockEntry{}, err
	}
	return p.ledger.Get(ctx, key)
}

func (p *TransactionProcessor) QueryHistory(ctx context.Context, filter domain.HistoryFilter) ([]domain.AuditRecord, error) {
	return p.audit.Query(ctx, filter)
}

func (p *TransactionProcessor) Replay(ctx context.Context, key domain.StockKey) (int, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	return p.audit.Replay(ctx, key)
}

// ListStock pages through ledger entries ordered by seller, then product.
func (p *TransactionProcessor) ListStock(ctx context.Context, filter domain.StockFilter) ([]domain.StockEntry, error) {
	limit, err := pageLimit(filter.Offset, filter.Limit)
	if err != nil {
		return nil, err
	}
	filter.Limit = limit

	entries, err := p.db.ListStock(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list stock: %w", err)
	}
	return entries, nil
}

// Verify replays the history of key while holding its lock, so no commit can
// land between reading the entry and reading the history. The figures are
// returned either way; the error is a *domain.DriftError when they disagree.
func (p *TransactionProcessor) Verify(ctx context.Context, key domain.StockKey) (domain.Reconciliation, error) {
	if err := validateKey(key); err != nil {
		return domain.Reconciliation{}, err
	}

	var rec domain.Reconciliation
	err := p.withKeyLock(ctx, key, func(ctx context.Context) error {
		var err error
		rec, err = p.audit.Verify(ctx, key)
		return err
	})
	if err != nil {
		return domain.Reconciliation{}, err
	}
	if drift := rec.Err(); drift != nil {
		p.logger.Error("ledger drift detected",
			zap.Stringer("key", key),
			zap.Int("ledger", rec.Ledger),
			zap.Int("replayed", rec.Replayed),
			zap.Int64("broken_at", rec.BrokenAt))
		return rec, drift
	}
	return rec, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
