package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

var ErrOptimisticLock = fmt.Errorf("optimistic lock conflict: %w", domain.ErrConcurrencyConflict)

const mysqlDuplicateEntry = 1062

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// EnsureSchema creates the ledger and catalog tables when they are missing.
func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	statements, err := schemaStatements("mysql.sql")
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx port.LedgerTx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) GetStockForUpdate(ctx context.Context, key domain.StockKey) (*domain.StockEntry, error) {
	entry, err := scanStock(t.tx.QueryRowContext(ctx, `
		SELECT `+stockColumns+`
		FROM stock_entries WHERE seller_id = ? AND product_id = ?
		FOR UPDATE`, key.SellerID, key.ProductID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query stock: %w", err)
	}
	return &entry, nil
}

func (t *mysqlTx) SaveStock(ctx context.Context, entry domain.StockEntry) error {
	if entry.Version == 0 {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO stock_entries (seller_id, product_id, initial_quantity, current_quantity, version, last_updated)
			VALUES (?, ?, ?, ?, 1, ?)`,
			entry.Key.SellerID, entry.Key.ProductID, entry.InitialQuantity, entry.CurrentQuantity, entry.LastUpdated,
		)
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return ErrOptimisticLock
		}
		if err != nil {
			return fmt.Errorf("insert stock: %w", err)
		}
		return nil
	}

	result, err := t.tx.ExecContext(ctx, `
		UPDATE stock_entries
		SET initial_quantity = ?, current_quantity = ?, version = version + 1, last_updated = ?
		WHERE seller_id = ? AND product_id = ? AND version = ?`,
		entry.InitialQuantity, entry.CurrentQuantity, entry.LastUpdated,
		entry.Key.SellerID, entry.Key.ProductID, entry.Version,
	)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOptimisticLock
	}
	return nil
}

func (t *mysqlTx) AppendAudit(ctx context.Context, r *domain.AuditRecord) error {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO audit_records (transaction_id, kind, seller_id, product_id, direction, quantity, unit_price,
			reason, notes, sale_id, actor, created_at, quantity_before, quantity_after)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.TransactionID, string(r.Kind), r.Key.SellerID, r.Key.ProductID, string(r.Direction), r.Quantity, r.UnitPrice,
		r.Reason, r.Notes, nullableID(r.SaleID), r.Actor, r.Timestamp, r.QuantityBefore, r.QuantityAfter,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("audit record id: %w", err)
	}
	r.Seq = seq
	return nil
}

func (t *mysqlTx) GetSaleForUpdate(ctx context.Context, saleID string) (*domain.Sale, error) {
	sale, err := scanSale(t.tx.QueryRowContext(ctx, `
		SELECT `+saleColumns+` FROM sales WHERE id = ? FOR UPDATE`, saleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sale: %w", err)
	}
	return &sale, nil
}

func (t *mysqlTx) InsertSale(ctx context.Context, s domain.Sale) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (id, seller_id, product_id, quantity, original_quantity, unit_price, notes, actor, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Key.SellerID, s.Key.ProductID, s.Quantity, s.OriginalQuantity, s.UnitPrice,
		s.Notes, s.Actor, string(s.Status), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

func (t *mysqlTx) UpdateSale(ctx context.Context, s domain.Sale) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE sales SET quantity = ?, status = ?, updated_at = ? WHERE id = ?`,
		s.Quantity, string(s.Status), s.UpdatedAt, s.ID,
	)
	if err != nil {
		return fmt.Errorf("update sale: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetStock(ctx context.Context, key domain.StockKey) (*domain.StockEntry, error) {
	entry, err := scanStock(m.db.QueryRowContext(ctx, `
		SELECT `+stockColumns+`
		FROM stock_entries WHERE seller_id = ? AND product_id = ?`, key.SellerID, key.ProductID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query stock: %w", err)
	}
	return &entry, nil
}

func (m *MySQLAdapter) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	sale, err := scanSale(m.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, saleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sale: %w", err)
	}
	return &sale, nil
}

func (m *MySQLAdapter) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	query, args := salesQuery(mysqlBind, filter)
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}
	defer rows.Close()

	sales := []domain.Sale{}
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

func (m *MySQLAdapter) ListStock(ctx context.Context, filter domain.StockFilter) ([]domain.StockEntry, error) {
	query, args := stockQuery(mysqlBind, filter)
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stock: %w", err)
	}
	defer rows.Close()

	entries := []domain.StockEntry{}
	for rows.Next() {
		entry, err := scanStock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stock: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (m *MySQLAdapter) QueryAudit(ctx context.Context, filter domain.HistoryFilter) ([]domain.AuditRecord, error) {
	query, args := auditQuery(mysqlBind, filter)
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	records := []domain.AuditRecord{}
	for rows.Next() {
		record, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (m *MySQLAdapter) SellerExists(ctx context.Context, sellerID int64) (bool, error) {
	return m.active(ctx, `SELECT status FROM sellers WHERE id = ?`, sellerID)
}

func (m *MySQLAdapter) ProductExists(ctx context.Context, productID int64) (bool, error) {
	return m.active(ctx, `SELECT status FROM products WHERE id = ?`, productID)
}

func (m *MySQLAdapter) active(ctx context.Context, query string, id int64) (bool, error) {
	var status string
	err := m.db.QueryRowContext(ctx, query, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query catalog: %w", err)
	}
	return domain.Status(status) == domain.StatusActive, nil
}

func (m *MySQLAdapter) GetUnitPrice(ctx context.Context, productID int64) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := m.db.QueryRowContext(ctx, `SELECT unit_price FROM products WHERE id = ?`, productID).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, &domain.NotFoundError{Resource: "product", ID: fmt.Sprint(productID)}
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("query unit price: %w", err)
	}
	return price, nil
}
