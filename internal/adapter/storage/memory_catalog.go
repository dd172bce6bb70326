package storage

import (
	"context"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-ledger/internal/core/domain"
)

// MemoryCatalog holds sellers and products for the in-memory deployment and tests.
type MemoryCatalog struct {
	mu       sync.RWMutex
	sellers  map[int64]domain.Seller
	products map[int64]domain.Product
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		sellers:  make(map[int64]domain.Seller),
		products: make(map[int64]domain.Product),
	}
}

func (c *MemoryCatalog) PutSeller(seller domain.Seller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sellers[seller.ID] = seller
}

func (c *MemoryCatalog) PutProduct(product domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[product.ID] = product
}

func (c *MemoryCatalog) SellerExists(ctx context.Context, sellerID int64) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seller, ok := c.sellers[sellerID]
	return ok && seller.Status == domain.StatusActive, nil
}

func (c *MemoryCatalog) ProductExists(ctx context.Context, productID int64) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	product, ok := c.products[productID]
	return ok && product.Status == domain.StatusActive, nil
}

func (c *MemoryCatalog) GetUnitPrice(ctx context.Context, productID int64) (decimal.Decimal, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	product, ok := c.products[productID]
	if !ok {
		return decimal.Zero, &domain.NotFoundError{Resource: "product", ID: strconv.FormatInt(productID, 10)}
	}
	return product.UnitPrice, nil
}
