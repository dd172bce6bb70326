package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

var testKey = domain.StockKey{SellerID: 1, ProductID: 2}

func assignmentRecord(id string, before, quantity int, at time.Time) *domain.AuditRecord {
	return &domain.AuditRecord{
		TransactionID:  id,
		Kind:           domain.KindAssignment,
		Key:            testKey,
		Direction:      domain.DirectionIncrease,
		Quantity:       quantity,
		Actor:          "tester",
		Timestamp:      at,
		QuantityBefore: before,
		QuantityAfter:  before + quantity,
	}
}

func TestMemoryAdapter_CommitAssignsSeq(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAdapter()
	now := time.Now().UTC()

	var first, second *domain.AuditRecord
	err := store.WithinTransaction(ctx, func(ctx context.Context, tx port.LedgerTx) error {
		require.NoError(t, tx.SaveStock(ctx, domain.StockEntry{Key: testKey, InitialQuantity: 10, CurrentQuantity: 10, LastUpdated: now}))
		first = assignmentRecord("tx-1", 0, 10, now)
		return tx.AppendAudit(ctx, first)
	})
	require.NoError(t, err)

	err = store.WithinTransaction(ctx, func(ctx context.Context, tx port.LedgerTx) error {
		entry, err := tx.GetStockForUpdate(ctx, testKey)
		require.NoError(t, err)
		require.NotNil(t, entry)
		entry.CurrentQuantity += 5
		entry.InitialQuantity += 5
		require.NoError(t, tx.SaveStock(ctx, *entry))
		second = assignmentRecord("tx-2", 10, 5, now)
		return tx.AppendAudit(ctx, second)
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)

	entry, err := store.GetStock(ctx, testKey)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 15, entry.CurrentQuantity)
	assert.Equal(t, 2, entry.Version)

	records, err := store.QueryAudit(ctx, domain.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "tx-2", records[0].TransactionID, "same timestamp falls back to newest seq first")
}

func TestMemoryAdapter_RollbackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAdapter()
	boom := errors.New("boom")

	err := store.WithinTransaction(ctx, func(ctx context.Context, tx port.LedgerTx) error {
		require.NoError(t, tx.SaveStock(ctx, domain.StockEntry{Key: testKey, CurrentQuantity: 3}))
		require.NoError(t, tx.AppendAudit(ctx, assignmentRecord("tx-1", 0, 3, time.Now())))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	entry, err := store.GetStock(ctx, testKey)
	require.NoError(t, err)
	assert.Nil(t, entry)

	records, err := store.QueryAudit(ctx, domain.HistoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMemoryAdapter_VersionConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAdapter()
	require.NoError(t, store.WithinTransaction(ctx, func(ctx context.Context, tx port.LedgerTx) error {
		return tx.SaveStock(ctx, domain.StockEntry{Key: testKey, CurrentQuantity: 10})
	}))

	err := store.WithinTransaction(ctx, func(ctx context.Context, tx port.LedgerTx) error {
		stale, err := tx.GetStockForUpdate(ctx, testKey)
		require.NoError(t, err)

		// a concurrent writer commits first
		require.NoError(t, store.WithinTransaction(ctx, func(ctx context.Context, other port.LedgerTx) error {
			entry, _ := other.GetStockForUpdate(ctx, testKey)
			entry.CurrentQuantity = 4
			return other.SaveStock(ctx, *entry)
		}))

		stale.CurrentQuantity = 7
		return tx.SaveStock(ctx, *stale)
	})
	assert.ErrorIs(t, err, ErrOptimisticLock)
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

	entry, _ := store.GetStock(ctx, testKey)
	assert.Equal(t, 4, entry.CurrentQuantity)
}

func TestMemoryAdapter_SalesStagedUntilCommit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAdapter()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"s-1", "s-2", "s-3"} {
		sale := domain.Sale{
			ID:        id,
			Key:       domain.StockKey{SellerID: int64(1 + i%2), ProductID: 2},
			Quantity:  1,
			UnitPrice: decimal.RequireFromString("2.50"),
			Status:    domain.SaleStatusActive,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		err := store.WithinTransaction(ctx, func(ctx context.Context, tx port.LedgerTx) error {
			require.NoError(t, tx.InsertSale(ctx, sale))
			staged, err := tx.GetSaleForUpdate(ctx, sale.ID)
			require.NoError(t, err)
			require.NotNil(t, staged)

			visible, err := store.GetSale(ctx, sale.ID)
			require.NoError(t, err)
			assert.Nil(t, visible)
			return nil
		})
		require.NoError(t, err)
	}

	sales, err := store.ListSales(ctx, domain.SaleFilter{})
	require.NoError(t, err)
	require.Len(t, sales, 3)
	assert.Equal(t, "s-3", sales[0].ID)

	sales, err = store.ListSales(ctx, domain.SaleFilter{SellerID: 1})
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, []string{"s-3", "s-1"}, []string{sales[0].ID, sales[1].ID})

	sales, err = store.ListSales(ctx, domain.SaleFilter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, "s-2", sales[0].ID)

	err = store.WithinTransaction(ctx, func(ctx context.Context, tx port.LedgerTx) error {
		return tx.InsertSale(ctx, domain.Sale{ID: "s-1"})
	})
	assert.ErrorIs(t, err, ErrOptimisticLock)
}

func TestMemoryAdapter_ListStock(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAdapter()
	now := time.Now().UTC()

	keys := []domain.StockKey{{SellerID: 2, ProductID: 1}, {SellerID: 1, ProductID: 3}, {SellerID: 1, ProductID: 2}}
	err := store.WithinTransaction(ctx, func(ctx context.Context, tx port.LedgerTx) error {
		for i, k := range keys {
			if err := tx.SaveStock(ctx, domain.StockEntry{Key: k, InitialQuantity: i + 1, CurrentQuantity: i + 1, LastUpdated: now}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	entries, err := store.ListStock(ctx, domain.StockFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []domain.StockKey{keys[2], keys[1], keys[0]}, []domain.StockKey{entries[0].Key, entries[1].Key, entries[2].Key})

	entries, err = store.ListStock(ctx, domain.StockFilter{SellerID: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, keys[1], entries[0].Key)

	entries, err = store.ListStock(ctx, domain.StockFilter{ProductID: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Version)

	entries, err = store.ListStock(ctx, domain.StockFilter{SellerID: 9})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStockQuery(t *testing.T) {
	query, args := stockQuery(postgresBind, domain.StockFilter{SellerID: 4, ProductID: 2, Offset: 10, Limit: 5})
	assert.Equal(t, "SELECT "+stockColumns+" FROM stock_entries WHERE seller_id = $1 AND product_id = $2 ORDER BY seller_id, product_id LIMIT $3 OFFSET $4", query)
	assert.Equal(t, []any{int64(4), int64(2), 5, 10}, args)

	query, args = stockQuery(mysqlBind, domain.StockFilter{})
	assert.Equal(t, "SELECT "+stockColumns+" FROM stock_entries ORDER BY seller_id, product_id", query)
	assert.Empty(t, args)
}

func TestMemoryAdapter_QueryAuditFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAdapter()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	quantity := 0
	for i := 0; i < 5; i++ {
		record := assignmentRecord("tx-"+string(rune('a'+i)), quantity, 1, base.Add(time.Duration(i)*time.Hour))
		quantity++
		require.NoError(t, store.WithinTransaction(ctx, func(ctx context.Context, tx port.LedgerTx) error {
			return tx.AppendAudit(ctx, record)
		}))
	}

	records, err := store.QueryAudit(ctx, domain.HistoryFilter{From: base.Add(time.Hour), To: base.Add(3 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "tx-d", records[0].TransactionID)
	assert.Equal(t, "tx-b", records[2].TransactionID)

	records, err = store.QueryAudit(ctx, domain.HistoryFilter{Kind: domain.KindSale})
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = store.QueryAudit(ctx, domain.HistoryFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, records)
}
