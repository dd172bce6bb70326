package port

import (
	"context"

	"github.com/shopspring/decimal"
)

// Catalog is the read-only view of sellers and products the ledger relies on.
type Catalog interface {
	// SellerExists reports whether the seller exists and is active.
	SellerExists(ctx context.Context, sellerID int64) (bool, error)

	// ProductExists reports whether the product exists and is active.
	ProductExists(ctx context.Context, productID int64) (bool, error)

	GetUnitPrice(ctx context.Context, productID int64) (decimal.Decimal, error)
}
