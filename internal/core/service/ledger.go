package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// StockLedger owns the live quantity of every (seller, product) pair. Writes
// go through upsertForMutation, which only the TransactionProcessor calls
// while it holds the key lock inside a unit of work.
type StockLedger struct {
	db     port.DatabaseRepository
	logger *zap.Logger
}

func NewStockLedger(db port.DatabaseRepository, logger *zap.Logger) *StockLedger {
	return &StockLedger{db: db, logger: logger}
}

// Get returns the entry for key as last committed. Each call reads the store
// itself, so a read started after a commit always observes it.
func (l *StockLedger) Get(ctx context.Context, key domain.StockKey) (domain.StockEntry, error) {
	entry, err := l.db.GetStock(ctx, key)
	if err != nil {
		return domain.StockEntry{}, fmt.Errorf("get stock %s: %w", key, err)
	}
	if entry == nil {
		return domain.StockEntry{}, domain.ErrNoStockAssigned
	}
	return *entry, nil
}

// forUpdate reads the entry inside tx. A missing entry comes back as a zero
// entry for key with Exists() == false.
func (l *StockLedger) forUpdate(ctx context.Context, tx port.LedgerTx, key domain.StockKey) (domain.StockEntry, error) {
	entry, err := tx.GetStockForUpdate(ctx, key)
	if err != nil {
		return domain.StockEntry{}, fmt.Errorf("read stock %s: %w", key, err)
	}
	if entry == nil {
		return domain.StockEntry{Key: key}, nil
	}
	return *entry, nil
}

// upsertForMutation applies delta to entry and persists it. Assigned deltas
// also count towards the initial quantity.
func (l *StockLedger) upsertForMutation(ctx context.Context, tx port.LedgerTx, entry domain.StockEntry, delta int, assigned bool, now time.Time) (domain.StockEntry, error) {
	next := entry.CurrentQuantity + delta
	if next < 0 {
		l.logger.Error("stock would go negative",
			zap.Stringer("key", entry.Key),
			zap.Int("current", entry.CurrentQuantity),
			zap.Int("delta", delta))
		return domain.StockEntry{}, fmt.Errorf("%w: %s would move from %d to %d",
			domain.ErrInvariantViolation, entry.Key, entry.CurrentQuantity, next)
	}

	entry.CurrentQuantity = next
	if assigned {
		entry.InitialQuantity += delta
	}
	entry.LastUpdated = now

	if err := tx.SaveStock(ctx, entry); err != nil {
		return domain.StockEntry{}, fmt.Errorf("save stock %s: %w", entry.Key, err)
	}
	entry.Version++
	return entry, nil
}

func checkAvailable(entry domain.StockEntry, requested int) error {
	if entry.CurrentQuantity < requested {
		return &domain.InsufficientStockError{Available: entry.CurrentQuantity, Requested: requested}
	}
	return nil
}
