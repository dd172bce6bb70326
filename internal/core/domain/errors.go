package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrNoStockAssigned     = fmt.Errorf("no stock assigned for seller and product: %w", ErrNotFound)
	ErrInvariantViolation  = errors.New("ledger invariant violation")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrDuplicateRequest    = errors.New("duplicate request")
	ErrSaleReversed        = errors.New("sale already reversed")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// InsufficientStockError carries both figures so callers can show a precise message.
type InsufficientStockError struct {
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: available %d, requested %d", e.Available, e.Requested)
}

// DriftError reports a ledger quantity that no longer matches its audit history.
type DriftError struct {
	Key      StockKey
	Ledger   int
	Replayed int
	// BrokenAt is the sequence number of the first record whose before
	// quantity does not continue the chain, zero when the chain is intact.
	BrokenAt int64
}

func (e *DriftError) Error() string {
	if e.BrokenAt != 0 {
		return fmt.Sprintf("ledger drift for %s: audit chain broken at record %d", e.Key, e.BrokenAt)
	}
	return fmt.Sprintf("ledger drift for %s: ledger %d, replayed %d", e.Key, e.Ledger, e.Replayed)
}
