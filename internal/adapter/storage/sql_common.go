package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

//go:embed schema/*.sql
var schemaFS embed.FS

const (
	stockColumns = `seller_id, product_id, initial_quantity, current_quantity, version, last_updated`
	saleColumns  = `id, seller_id, product_id, quantity, original_quantity, unit_price, notes, actor, status, created_at, updated_at`
	auditColumns = `seq, transaction_id, kind, seller_id, product_id, direction, quantity, unit_price,
		reason, notes, sale_id, actor, created_at, quantity_before, quantity_after`
)

// schemaStatements splits an embedded schema file into single statements.
func schemaStatements(name string) ([]string, error) {
	raw, err := schemaFS.ReadFile("schema/" + name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	var statements []string
	for _, stmt := range strings.Split(string(raw), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStock(row rowScanner) (domain.StockEntry, error) {
	var e domain.StockEntry
	err := row.Scan(&e.Key.SellerID, &e.Key.ProductID, &e.InitialQuantity, &e.CurrentQuantity, &e.Version, &e.LastUpdated)
	e.LastUpdated = e.LastUpdated.UTC()
	return e, err
}

func scanSale(row rowScanner) (domain.Sale, error) {
	var s domain.Sale
	var status string
	err := row.Scan(&s.ID, &s.Key.SellerID, &s.Key.ProductID, &s.Quantity, &s.OriginalQuantity,
		&s.UnitPrice, &s.Notes, &s.Actor, &status, &s.CreatedAt, &s.UpdatedAt)
	s.Status = domain.SaleStatus(status)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, err
}

func scanAudit(row rowScanner) (domain.AuditRecord, error) {
	var r domain.AuditRecord
	var kind, direction string
	var saleID sql.NullString
	err := row.Scan(&r.Seq, &r.TransactionID, &kind, &r.Key.SellerID, &r.Key.ProductID, &direction,
		&r.Quantity, &r.UnitPrice, &r.Reason, &r.Notes, &saleID, &r.Actor, &r.Timestamp,
		&r.QuantityBefore, &r.QuantityAfter)
	r.Kind = domain.Kind(kind)
	r.Direction = domain.Direction(direction)
	r.SaleID = saleID.String
	r.Timestamp = r.Timestamp.UTC()
	return r, err
}

func nullableID(id string) sql.NullString {
	return sql.NullString{String: id, Valid: id != ""}
}

// whereBuilder collects filter clauses; bind renders the n-th placeholder.
type whereBuilder struct {
	bind    func(n int) string
	clauses []string
	args    []any
}

func (w *whereBuilder) add(column, op string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf("%s %s %s", column, op, w.bind(len(w.args))))
}

func (w *whereBuilder) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// paging appends LIMIT/OFFSET. A zero limit returns everything.
func (w *whereBuilder) paging(offset, limit int) string {
	if limit <= 0 {
		return ""
	}
	w.args = append(w.args, limit)
	clause := " LIMIT " + w.bind(len(w.args))
	w.args = append(w.args, offset)
	return clause + " OFFSET " + w.bind(len(w.args))
}

func auditQuery(bind func(int) string, f domain.HistoryFilter) (string, []any) {
	w := &whereBuilder{bind: bind}
	if f.SellerID != 0 {
		w.add("seller_id", "=", f.SellerID)
	}
	if f.ProductID != 0 {
		w.add("product_id", "=", f.ProductID)
	}
	if f.Kind != "" {
		w.add("kind", "=", string(f.Kind))
	}
	if f.SaleID != "" {
		w.add("sale_id", "=", f.SaleID)
	}
	if !f.From.IsZero() {
		w.add("created_at", ">=", f.From.UTC())
	}
	if !f.To.IsZero() {
		w.add("created_at", "<=", f.To.UTC())
	}
	query := "SELECT " + auditColumns + " FROM audit_records" + w.String() +
		" ORDER BY created_at DESC, seq DESC"
	query += w.paging(f.Offset, f.Limit)
	return query, w.args
}

func salesQuery(bind func(int) string, f domain.SaleFilter) (string, []any) {
	w := &whereBuilder{bind: bind}
	if f.SellerID != 0 {
		w.add("seller_id", "=", f.SellerID)
	}
	if f.ProductID != 0 {
		w.add("product_id", "=", f.ProductID)
	}
	if !f.From.IsZero() {
		w.add("created_at", ">=", f.From.UTC())
	}
	if !f.To.IsZero() {
		w.add("created_at", "<=", f.To.UTC())
	}
	query := "SELECT " + saleColumns + " FROM sales" + w.String() + " ORDER BY created_at DESC, id DESC"
	query += w.paging(f.Offset, f.Limit)
	return query, w.args
}

func stockQuery(bind func(int) string, f domain.StockFilter) (string, []any) {
	w := &whereBuilder{bind: bind}
	if f.SellerID != 0 {
		w.add("seller_id", "=", f.SellerID)
	}
	if f.ProductID != 0 {
		w.add("product_id", "=", f.ProductID)
	}
	query := "SELECT " + stockColumns + " FROM stock_entries" + w.String() + " ORDER BY seller_id, product_id"
	query += w.paging(f.Offset, f.Limit)
	return query, w.args
}

func mysqlBind(int) string { return "?" }

func postgresBind(n int) string { return fmt.Sprintf("$%d", n) }
