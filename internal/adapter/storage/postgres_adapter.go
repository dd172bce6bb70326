package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const pgUniqueViolation = "23505"

// PostgresAdapter is the ledger and catalog store on PostgreSQL.
type PostgresAdapter struct {
	pool *pgxpool.Pool
}

func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool}
}

func (p *PostgresAdapter) EnsureSchema(ctx context.Context) error {
	statements, err := schemaStatements("postgres.sql")
	if err != nil {
		return err
	}
	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (p *PostgresAdapter) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx port.LedgerTx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := fn(ctx, &postgresTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) GetStockForUpdate(ctx context.Context, key domain.StockKey) (*domain.StockEntry, error) {
	entry, err := scanStock(t.tx.QueryRow(ctx, `
		SELECT `+stockColumns+`
		FROM stock_entries WHERE seller_id = $1 AND product_id = $2
		FOR UPDATE`, key.SellerID, key.ProductID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query stock: %w", err)
	}
	return &entry, nil
}

func (t *postgresTx) SaveStock(ctx context.Context, entry domain.StockEntry) error {
	if entry.Version == 0 {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO stock_entries (seller_id, product_id, initial_quantity, current_quantity, version, last_updated)
			VALUES ($1, $2, $3, $4, 1, $5)`,
			entry.Key.SellerID, entry.Key.ProductID, entry.InitialQuantity, entry.CurrentQuantity, entry.LastUpdated,
		)
		if isUniqueViolation(err) {
			return ErrOptimisticLock
		}
		if err != nil {
			return fmt.Errorf("insert stock: %w", err)
		}
		return nil
	}

	tag, err := t.tx.Exec(ctx, `
		UPDATE stock_entries
		SET initial_quantity = $1, current_quantity = $2, version = version + 1, last_updated = $3
		WHERE seller_id = $4 AND product_id = $5 AND version = $6`,
		entry.InitialQuantity, entry.CurrentQuantity, entry.LastUpdated,
		entry.Key.SellerID, entry.Key.ProductID, entry.Version,
	)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOptimisticLock
	}
	return nil
}

func (t *postgresTx) AppendAudit(ctx context.Context, r *domain.AuditRecord) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO audit_records (transaction_id, kind, seller_id, product_id, direction, quantity, unit_price,
			reason, notes, sale_id, actor, created_at, quantity_before, quantity_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING seq`,
		r.TransactionID, string(r.Kind), r.Key.SellerID, r.Key.ProductID, string(r.Direction), r.Quantity, r.UnitPrice,
		r.Reason, r.Notes, nullableID(r.SaleID), r.Actor, r.Timestamp, r.QuantityBefore, r.QuantityAfter,
	).Scan(&r.Seq)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (t *postgresTx) GetSaleForUpdate(ctx context.Context, saleID string) (*domain.Sale, error) {
	sale, err := scanSale(t.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, saleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sale: %w", err)
	}
	return &sale, nil
}

func (t *postgresTx) InsertSale(ctx context.Context, s domain.Sale) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO sales (id, seller_id, product_id, quantity, original_quantity, unit_price, notes, actor, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.Key.SellerID, s.Key.ProductID, s.Quantity, s.OriginalQuantity, s.UnitPrice,
		s.Notes, s.Actor, string(s.Status), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

func (t *postgresTx) UpdateSale(ctx context.Context, s domain.Sale) error {
	_, err := t.tx.Exec(ctx, `UPDATE sales SET quantity = $1, status = $2, updated_at = $3 WHERE id = $4`,
		s.Quantity, string(s.Status), s.UpdatedAt, s.ID)
	if err != nil {
		return fmt.Errorf("update sale: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) GetStock(ctx context.Context, key domain.StockKey) (*domain.StockEntry, error) {
	entry, err := scanStock(p.pool.QueryRow(ctx, `
		SELECT `+stockColumns+`
		FROM stock_entries WHERE seller_id = $1 AND product_id = $2`, key.SellerID, key.ProductID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query stock: %w", err)
	}
	return &entry, nil
}

func (p *PostgresAdapter) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	sale, err := scanSale(p.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, saleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sale: %w", err)
	}
	return &sale, nil
}

func (p *PostgresAdapter) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	query, args := salesQuery(postgresBind, filter)
	rows, err := p.pool.Query(ctx, query, args...)
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

func (p *PostgresAdapter) ListStock(ctx context.Context, filter domain.StockFilter) ([]domain.StockEntry, error) {
	query, args := stockQuery(postgresBind, filter)
	rows, err := p.pool.Query(ctx, query, args...)
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

func (p *PostgresAdapter) QueryAudit(ctx context.Context, filter domain.HistoryFilter) ([]domain.AuditRecord, error) {
	query, args := auditQuery(postgresBind, filter)
	rows, err := p.pool.Query(ctx, query, args...)
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

func (p *PostgresAdapter) SellerExists(ctx context.Context, sellerID int64) (bool, error) {
	return p.active(ctx, `SELECT status FROM sellers WHERE id = $1`, sellerID)
}

func (p *PostgresAdapter) ProductExists(ctx context.Context, productID int64) (bool, error) {
	return p.active(ctx, `SELECT status FROM products WHERE id = $1`, productID)
}

func (p *PostgresAdapter) active(ctx context.Context, query string, id int64) (bool, error) {
	var status string
	err := p.pool.QueryRow(ctx, query, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query catalog: %w", err)
	}
	return domain.Status(status) == domain.StatusActive, nil
}

func (p *PostgresAdapter) GetUnitPrice(ctx context.Context, productID int64) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := p.pool.QueryRow(ctx, `SELECT unit_price FROM products WHERE id = $1`, productID).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, &domain.NotFoundError{Resource: "product", ID: fmt.Sprint(productID)}
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("query unit price: %w", err)
	}
	return price, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
