package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

const defaultActor = "system"

func validateKey(key domain.StockKey) error {
	if key.SellerID <= 0 {
		return &domain.ValidationError{Field: "seller_id", Reason: "must be positive"}
	}
	if key.ProductID <= 0 {
		return &domain.ValidationError{Field: "product_id", Reason: "must be positive"}
	}
	return nil
}

func validateQuantity(field string, quantity int) error {
	if quantity <= 0 {
		return &domain.ValidationError{Field: field, Reason: "must be greater than zero"}
	}
	return nil
}

func actorOrDefault(actor string) string {
	if actor == "" {
		return defaultActor
	}
	return actor
}

// requireActive checks the catalog knows both sides of key and neither is deactivated.
func (p *TransactionProcessor) requireActive(ctx context.Context, key domain.StockKey) error {
	ok, err := p.catalog.SellerExists(ctx, key.SellerID)
	if err != nil {
		return fmt.Errorf("check seller %d: %w", key.SellerID, err)
	}
	if !ok {
		return &domain.NotFoundError{Resource: "seller", ID: strconv.FormatInt(key.SellerID, 10)}
	}

	ok, err = p.catalog.ProductExists(ctx, key.ProductID)
	if err != nil {
		return fmt.Errorf("check product %d: %w", key.ProductID, err)
	}
	if !ok {
		return &domain.NotFoundError{Resource: "product", ID: strconv.FormatInt(key.ProductID, 10)}
	}
	return nil
}

// priceScale matches the DECIMAL(12,2) price columns of the SQL stores.
const priceScale = 2

// resolveUnitPrice prefers the price supplied with the sale and falls back to the catalog.
func (p *TransactionProcessor) resolveUnitPrice(ctx context.Context, productID int64, supplied *decimal.Decimal) (decimal.Decimal, error) {
	if supplied != nil {
		if supplied.IsNegative() {
			return decimal.Zero, &domain.ValidationError{Field: "unit_price", Reason: "must not be negative"}
		}
		if !supplied.Equal(supplied.Round(priceScale)) {
			return decimal.Zero, &domain.ValidationError{Field: "unit_price", Reason: fmt.Sprintf("must have at most %d decimal places", priceScale)}
		}
		return *supplied, nil
	}
	price, err := p.catalog.GetUnitPrice(ctx, productID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unit price of product %d: %w", productID, err)
	}
	return price, nil
}
