package domain

import (
	"fmt"
	"time"
)

// StockKey identifies the stock a seller holds of one product.
type StockKey struct {
	SellerID  int64
	ProductID int64
}

func (k StockKey) String() string {
	return fmt.Sprintf("%d:%d", k.SellerID, k.ProductID)
}

// StockEntry is the live quantity record for a StockKey.
type StockEntry struct {
	Key             StockKey
	InitialQuantity int // cumulative units ever assigned
	CurrentQuantity int // units on hand, never negative
	Version         int // optimistic locking
	LastUpdated     time.Time
}

// Exists reports whether the entry has been persisted at least once.
func (e StockEntry) Exists() bool {
	return e.Version > 0
}

// StockFilter narrows ListStock. Zero values mean "any".
type StockFilter struct {
	SellerID  int64
	ProductID int64
	Offset    int
	Limit     int
}

func (f StockFilter) Matches(e StockEntry) bool {
	if f.SellerID != 0 && e.Key.SellerID != f.SellerID {
		return false
	}
	if f.ProductID != 0 && e.Key.ProductID != f.ProductID {
		return false
	}
	return true
}
