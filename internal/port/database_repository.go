package port

import (
	"context"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// LedgerTx is the view of the store inside one unit of work. Writes made
// through it become visible together on commit or not at all.
type LedgerTx interface {
	// GetStockForUpdate reads the entry and holds it against concurrent writers
	// until the unit of work ends. Returns nil when the entry does not exist.
	GetStockForUpdate(ctx context.Context, key domain.StockKey) (*domain.StockEntry, error)

	// SaveStock inserts the entry when entry.Version is 0, otherwise updates it
	// with a version check for optimistic locking.
	SaveStock(ctx context.Context, entry domain.StockEntry) error

	// AppendAudit stores the record and fills in its Seq.
	AppendAudit(ctx context.Context, record *domain.AuditRecord) error

	// GetSaleForUpdate returns nil when the sale does not exist.
	GetSaleForUpdate(ctx context.Context, saleID string) (*domain.Sale, error)

	InsertSale(ctx context.Context, sale domain.Sale) error

	UpdateSale(ctx context.Context, sale domain.Sale) error
}

type DatabaseRepository interface {
	// WithinTransaction runs fn in a single unit of work. It commits when fn
	// returns nil and rolls back otherwise.
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error

	// GetStock returns nil when the entry does not exist.
	GetStock(ctx context.Context, key domain.StockKey) (*domain.StockEntry, error)

	// GetSale returns nil when the sale does not exist.
	GetSale(ctx context.Context, saleID string) (*domain.Sale, error)

	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)

	// ListStock returns matching entries ordered by seller, then product.
	ListStock(ctx context.Context, filter domain.StockFilter) ([]domain.StockEntry, error)

	// QueryAudit returns matching records newest first. A zero Limit means no limit.
	QueryAudit(ctx context.Context, filter domain.HistoryFilter) ([]domain.AuditRecord, error)
}
