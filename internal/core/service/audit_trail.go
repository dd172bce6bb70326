package service

import (
	"context"
	"fmt"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// AuditTrail is the append-only history of committed transactions.
type AuditTrail struct {
	db port.DatabaseRepository
}

func NewAuditTrail(db port.DatabaseRepository) *AuditTrail {
	return &AuditTrail{db: db}
}

func (a *AuditTrail) append(ctx context.Context, tx port.LedgerTx, record *domain.AuditRecord) error {
	if !record.WellFormed() {
		return fmt.Errorf("%w: malformed %s record for %s (%d -> %d, quantity %d)",
			domain.ErrInvariantViolation, record.Kind, record.Key,
			record.QuantityBefore, record.QuantityAfter, record.Quantity)
	}
	if err := tx.AppendAudit(ctx, record); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// Query returns matching records, newest first.
func (a *AuditTrail) Query(ctx context.Context, filter domain.HistoryFilter) ([]domain.AuditRecord, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, &domain.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown transaction kind %q", filter.Kind)}
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, &domain.ValidationError{Field: "to", Reason: "must not be before from"}
	}
	limit, err := pageLimit(filter.Offset, filter.Limit)
	if err != nil {
		return nil, err
	}
	filter.Limit = limit

	records, err := a.db.QueryAudit(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	return records, nil
}

// Replay recomputes the current quantity of key from its full history.
func (a *AuditTrail) Replay(ctx context.Context, key domain.StockKey) (int, error) {
	quantity, _, err := a.replay(ctx, key)
	return quantity, err
}

// Verify replays the history of key against its ledger entry. The caller
// must keep key from changing between the two reads.
func (a *AuditTrail) Verify(ctx context.Context, key domain.StockKey) (domain.Reconciliation, error) {
	entry, err := a.db.GetStock(ctx, key)
	if err != nil {
		return domain.Reconciliation{}, fmt.Errorf("get stock %s: %w", key, err)
	}
	if entry == nil {
		return domain.Reconciliation{}, domain.ErrNoStockAssigned
	}

	replayed, broken, err := a.replay(ctx, key)
	if err != nil {
		return domain.Reconciliation{}, err
	}
	rec := domain.Reconciliation{Key: key, Ledger: entry.CurrentQuantity, Replayed: replayed}
	if broken != nil {
		rec.BrokenAt = broken.Seq
	}
	return rec, nil
}

func (a *AuditTrail) replay(ctx context.Context, key domain.StockKey) (int, *domain.AuditRecord, error) {
	records, err := a.db.QueryAudit(ctx, domain.HistoryFilter{SellerID: key.SellerID, ProductID: key.ProductID})
	if err != nil {
		return 0, nil, fmt.Errorf("load history %s: %w", key, err)
	}
	quantity, broken := domain.Fold(records)
	return quantity, broken, nil
}

func pageLimit(offset, limit int) (int, error) {
	if offset < 0 {
		return 0, &domain.ValidationError{Field: "offset", Reason: "must not be negative"}
	}
	switch {
	case limit < 0:
		return 0, &domain.ValidationError{Field: "limit", Reason: "must not be negative"}
	case limit == 0:
		return DefaultHistoryLimit, nil
	case limit > MaxHistoryLimit:
		return 0, &domain.ValidationError{Field: "limit", Reason: fmt.Sprintf("must be at most %d", MaxHistoryLimit)}
	}
	return limit, nil
}
