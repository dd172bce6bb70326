package domain

import "github.com/shopspring/decimal"

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

type Seller struct {
	ID     int64
	Name   string
	Status Status
}

type Product struct {
	ID        int64
	Name      string
	Code      string
	UnitPrice decimal.Decimal
	Status    Status
}
