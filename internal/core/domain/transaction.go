package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind tells which transaction produced an audit record.
type Kind string

const (
	KindAssignment Kind = "assignment"
	KindSale       Kind = "sale"
	KindAdjustment Kind = "adjustment"
)

func (k Kind) Valid() bool {
	switch k {
	case KindAssignment, KindSale, KindAdjustment:
		return true
	}
	return false
}

type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
)

func (d Direction) Valid() bool {
	return d == DirectionIncrease || d == DirectionDecrease
}

// Sign returns +1 for increase and -1 for decrease.
func (d Direction) Sign() int {
	if d == DirectionDecrease {
		return -1
	}
	return 1
}

type SaleStatus string

const (
	SaleStatusActive   SaleStatus = "active"
	SaleStatusReversed SaleStatus = "reversed"
)

// Sale is the sale document a SaleTx creates. Quantity follows amendments;
// OriginalQuantity is what the sale was first recorded with.
type Sale struct {
	ID               string
	Key              StockKey
	Quantity         int
	OriginalQuantity int
	UnitPrice        decimal.Decimal
	Notes            string
	Actor            string
	Status           SaleStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Total is the sale value at the captured unit price.
func (s Sale) Total() decimal.Decimal {
	return s.UnitPrice.Mul(decimal.NewFromInt(int64(s.Quantity)))
}

func (s Sale) Reversed() bool {
	return s.Status == SaleStatusReversed
}

// SaleFilter narrows ListSales. Zero values mean "any".
type SaleFilter struct {
	SellerID  int64
	ProductID int64
	From      time.Time
	To        time.Time
	Offset    int
	Limit     int
}
