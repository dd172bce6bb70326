package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// Response bodies shared by the HTTP and gRPC transports.

type StockView struct {
	SellerID        int64     `json:"seller_id"`
	ProductID       int64     `json:"product_id"`
	InitialQuantity int       `json:"initial_quantity"`
	CurrentQuantity int       `json:"current_quantity"`
	Version         int       `json:"version"`
	LastUpdated     time.Time `json:"last_updated"`
}

func NewStockView(e domain.StockEntry) StockView {
	return StockView{
		SellerID:        e.Key.SellerID,
		ProductID:       e.Key.ProductID,
		InitialQuantity: e.InitialQuantity,
		CurrentQuantity: e.CurrentQuantity,
		Version:         e.Version,
		LastUpdated:     e.LastUpdated,
	}
}

type SaleView struct {
	ID               string          `json:"id"`
	SellerID         int64           `json:"seller_id"`
	ProductID        int64           `json:"product_id"`
	Quantity         int             `json:"quantity"`
	OriginalQuantity int             `json:"original_quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	Total            decimal.Decimal `json:"total"`
	Notes            string          `json:"notes,omitempty"`
	Actor            string          `json:"actor"`
	Status           string          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func NewSaleView(s domain.Sale) SaleView {
	return SaleView{
		ID:               s.ID,
		SellerID:         s.Key.SellerID,
		ProductID:        s.Key.ProductID,
		Quantity:         s.Quantity,
		OriginalQuantity: s.OriginalQuantity,
		UnitPrice:        s.UnitPrice,
		Total:            s.Total(),
		Notes:            s.Notes,
		Actor:            s.Actor,
		Status:           string(s.Status),
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

type RecordView struct {
	Seq            int64            `json:"seq"`
	TransactionID  string           `json:"transaction_id"`
	Kind           string           `json:"kind"`
	SellerID       int64            `json:"seller_id"`
	ProductID      int64            `json:"product_id"`
	Direction      string           `json:"direction"`
	Quantity       int              `json:"quantity"`
	UnitPrice      *decimal.Decimal `json:"unit_price,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	Notes          string           `json:"notes,omitempty"`
	SaleID         string           `json:"sale_id,omitempty"`
	Actor          string           `json:"actor"`
	Timestamp      time.Time        `json:"timestamp"`
	QuantityBefore int              `json:"quantity_before"`
	QuantityAfter  int              `json:"quantity_after"`
}

func NewRecordView(r domain.AuditRecord) RecordView {
	view := RecordView{
		Seq:            r.Seq,
		TransactionID:  r.TransactionID,
		Kind:           string(r.Kind),
		SellerID:       r.Key.SellerID,
		ProductID:      r.Key.ProductID,
		Direction:      string(r.Direction),
		Quantity:       r.Quantity,
		Reason:         r.Reason,
		Notes:          r.Notes,
		SaleID:         r.SaleID,
		Actor:          r.Actor,
		Timestamp:      r.Timestamp,
		QuantityBefore: r.QuantityBefore,
		QuantityAfter:  r.QuantityAfter,
	}
	if r.UnitPrice.Valid {
		price := r.UnitPrice.Decimal
		view.UnitPrice = &price
	}
	return view
}
