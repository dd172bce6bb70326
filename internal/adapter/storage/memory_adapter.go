package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

// MemoryAdapter is an in-process ledger store. Units of work are staged
// privately and applied under the store mutex at commit, after checking that
// no entry they wrote changed version since it was read.
type MemoryAdapter struct {
	mu        sync.Mutex
	stock     map[domain.StockKey]domain.StockEntry
	sales     map[string]domain.Sale
	saleOrder []string
	audit     []domain.AuditRecord
	seq       int64
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		stock: make(map[domain.StockKey]domain.StockEntry),
		sales: make(map[string]domain.Sale),
	}
}

type memoryTx struct {
	store      *MemoryAdapter
	stock      map[domain.StockKey]domain.StockEntry
	expected   map[domain.StockKey]int
	sales      map[string]domain.Sale
	insertions []string
	audit      []*domain.AuditRecord
}

func (m *MemoryAdapter) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx port.LedgerTx) error) error {
	tx := &memoryTx{
		store:    m,
		stock:    make(map[domain.StockKey]domain.StockEntry),
		expected: make(map[domain.StockKey]int),
		sales:    make(map[string]domain.Sale),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.apply(tx)
}

func (m *MemoryAdapter) apply(tx *memoryTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, version := range tx.expected {
		if m.stock[key].Version != version {
			return ErrOptimisticLock
		}
	}
	for _, id := range tx.insertions {
		if _, ok := m.sales[id]; ok {
			return fmt.Errorf("insert sale %s: %w", id, ErrOptimisticLock)
		}
	}

	for key, entry := range tx.stock {
		m.stock[key] = entry
	}
	for id, sale := range tx.sales {
		m.sales[id] = sale
	}
	m.saleOrder = append(m.saleOrder, tx.insertions...)
	for _, record := range tx.audit {
		m.seq++
		record.Seq = m.seq
		m.audit = append(m.audit, *record)
	}
	return nil
}

func (t *memoryTx) GetStockForUpdate(ctx context.Context, key domain.StockKey) (*domain.StockEntry, error) {
	if entry, ok := t.stock[key]; ok {
		return &entry, nil
	}
	return t.store.GetStock(ctx, key)
}

func (t *memoryTx) SaveStock(ctx context.Context, entry domain.StockEntry) error {
	if _, staged := t.expected[entry.Key]; !staged {
		t.expected[entry.Key] = entry.Version
	}
	entry.Version++
	t.stock[entry.Key] = entry
	return nil
}

func (t *memoryTx) AppendAudit(ctx context.Context, record *domain.AuditRecord) error {
	t.audit = append(t.audit, record)
	return nil
}

func (t *memoryTx) GetSaleForUpdate(ctx context.Context, saleID string) (*domain.Sale, error) {
	if sale, ok := t.sales[saleID]; ok {
		return &sale, nil
	}
	return t.store.GetSale(ctx, saleID)
}

func (t *memoryTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	t.sales[sale.ID] = sale
	t.insertions = append(t.insertions, sale.ID)
	return nil
}

func (t *memoryTx) UpdateSale(ctx context.Context, sale domain.Sale) error {
	t.sales[sale.ID] = sale
	return nil
}

func (m *MemoryAdapter) GetStock(ctx context.Context, key domain.StockKey) (*domain.StockEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.stock[key]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *MemoryAdapter) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sale, ok := m.sales[saleID]
	if !ok {
		return nil, nil
	}
	return &sale, nil
}

func (m *MemoryAdapter) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	m.mu.Lock()
	var sales []domain.Sale
	for i := len(m.saleOrder) - 1; i >= 0; i-- {
		sale := m.sales[m.saleOrder[i]]
		if saleMatches(filter, sale) {
			sales = append(sales, sale)
		}
	}
	m.mu.Unlock()

	sort.SliceStable(sales, func(i, j int) bool {
		return sales[i].CreatedAt.After(sales[j].CreatedAt)
	})
	return page(sales, filter.Offset, filter.Limit), nil
}

func (m *MemoryAdapter) ListStock(ctx context.Context, filter domain.StockFilter) ([]domain.StockEntry, error) {
	m.mu.Lock()
	var entries []domain.StockEntry
	for _, entry := range m.stock {
		if filter.Matches(entry) {
			entries = append(entries, entry)
		}
	}
	m.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Key.SellerID != entries[j].Key.SellerID {
			return entries[i].Key.SellerID < entries[j].Key.SellerID
		}
		return entries[i].Key.ProductID < entries[j].Key.ProductID
	})
	return page(entries, filter.Offset, filter.Limit), nil
}

func (m *MemoryAdapter) QueryAudit(ctx context.Context, filter domain.HistoryFilter) ([]domain.AuditRecord, error) {
	m.mu.Lock()
	var records []domain.AuditRecord
	for _, record := range m.audit {
		if filter.Matches(record) {
			records = append(records, record)
		}
	}
	m.mu.Unlock()

	domain.SortNewestFirst(records)
	return page(records, filter.Offset, filter.Limit), nil
}

func saleMatches(f domain.SaleFilter, sale domain.Sale) bool {
	if f.SellerID != 0 && sale.Key.SellerID != f.SellerID {
		return false
	}
	if f.ProductID != 0 && sale.Key.ProductID != f.ProductID {
		return false
	}
	if !f.From.IsZero() && sale.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && sale.CreatedAt.After(f.To) {
		return false
	}
	return true
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
