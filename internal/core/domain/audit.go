package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// AuditRecord is the immutable trace of one committed transaction.
type AuditRecord struct {
	Seq            int64 // insertion sequence, assigned by the store
	TransactionID  string
	Kind           Kind
	Key            StockKey
	Direction      Direction
	Quantity       int
	UnitPrice      decimal.NullDecimal // sales only
	Reason         string
	Notes          string
	SaleID         string // sale the transaction belongs to or compensates
	Actor          string
	Timestamp      time.Time
	QuantityBefore int
	QuantityAfter  int
}

// Delta is the signed effect of the transaction on the current quantity.
func (r AuditRecord) Delta() int {
	switch r.Kind {
	case KindAssignment:
		return r.Quantity
	case KindSale:
		return -r.Quantity
	default:
		return r.Direction.Sign() * r.Quantity
	}
}

// WellFormed checks the record is internally consistent.
func (r AuditRecord) WellFormed() bool {
	if !r.Kind.Valid() || r.Quantity <= 0 {
		return false
	}
	if r.Kind == KindAdjustment && !r.Direction.Valid() {
		return false
	}
	return r.QuantityBefore >= 0 && r.QuantityAfter >= 0 &&
		r.QuantityAfter-r.QuantityBefore == r.Delta()
}

// HistoryFilter narrows an audit query. Zero values mean "any".
type HistoryFilter struct {
	SellerID  int64
	ProductID int64
	Kind      Kind
	SaleID    string
	From      time.Time
	To        time.Time
	Offset    int
	Limit     int
}

// Matches reports whether rec passes every non-zero filter field.
func (f HistoryFilter) Matches(rec AuditRecord) bool {
	if f.SellerID != 0 && rec.Key.SellerID != f.SellerID {
		return false
	}
	if f.ProductID != 0 && rec.Key.ProductID != f.ProductID {
		return false
	}
	if f.Kind != "" && rec.Kind != f.Kind {
		return false
	}
	if f.SaleID != "" && rec.SaleID != f.SaleID {
		return false
	}
	if !f.From.IsZero() && rec.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && rec.Timestamp.After(f.To) {
		return false
	}
	return true
}

// SortNewestFirst orders records by timestamp descending, newest insertion first on ties.
func SortNewestFirst(records []AuditRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.After(records[j].Timestamp)
		}
		return records[i].Seq > records[j].Seq
	})
}

// Fold replays records in commit order and returns the resulting quantity.
// Chain reports the first record whose QuantityBefore disagrees with the
// running total, or nil when the chain is intact.
func Fold(records []AuditRecord) (quantity int, chain *AuditRecord) {
	ordered := make([]AuditRecord, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].Seq < ordered[j].Seq
	})

	for i := range ordered {
		if chain == nil && ordered[i].QuantityBefore != quantity {
			rec := ordered[i]
			chain = &rec
		}
		quantity += ordered[i].Delta()
	}
	return quantity, chain
}

// Reconciliation is the outcome of replaying the history of one key against
// its ledger entry.
type Reconciliation struct {
	Key      StockKey
	Ledger   int
	Replayed int
	BrokenAt int64
}

func (r Reconciliation) Consistent() bool {
	return r.BrokenAt == 0 && r.Ledger == r.Replayed
}

// Err returns a *DriftError unless the reconciliation is consistent.
func (r Reconciliation) Err() error {
	if r.Consistent() {
		return nil
	}
	return &DriftError{Key: r.Key, Ledger: r.Ledger, Replayed: r.Replayed, BrokenAt: r.BrokenAt}
}
