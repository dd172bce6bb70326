package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const idempotencyKeyPrefix = "ledger:sale:"

type SaleRequest struct {
	SellerID  int64
	ProductID int64
	Quantity  int
	UnitPrice *decimal.Decimal // catalog price when nil
	Actor     string
	Notes     string
	RequestID string // optional client key; a repeated key is rejected with ErrDuplicateRequest
}

// RecordSale removes sold units from a seller's stock and stores the sale.
func (p *TransactionProcessor) RecordSale(ctx context.Context, req SaleRequest) (domain.Sale, error) {
	key := domain.StockKey{SellerID: req.SellerID, ProductID: req.ProductID}

	var sale domain.Sale
	err := p.observe(ctx, "record_sale", key, func(ctx context.Context) (err error) {
		if err := validateKey(key); err != nil {
			return err
		}
		if err := validateQuantity("quantity", req.Quantity); err != nil {
			return err
		}

		if req.RequestID != "" && p.idempotency != nil {
			idemKey := idempotencyKeyPrefix + req.RequestID
			ok, setErr := p.idempotency.SetIdempotency(ctx, idemKey)
			if setErr != nil {
				return fmt.Errorf("idempotency check failed: %w", setErr)
			}
			if !ok {
				return domain.ErrDuplicateRequest
			}
			defer func() {
				if err != nil {
					p.releaseIdempotency(ctx, idemKey)
				}
			}()
		}

		if err := p.requireActive(ctx, key); err != nil {
			return err
		}
		price, err := p.resolveUnitPrice(ctx, req.ProductID, req.UnitPrice)
		if err != nil {
			return err
		}

		var record domain.AuditRecord
		err = p.commit(ctx, key, func(ctx context.Context, tx port.LedgerTx) error {
			now := p.timestamp()
			current, err := p.ledger.forUpdate(ctx, tx, key)
			if err != nil {
				return err
			}
			if !current.Exists() {
				return domain.ErrNoStockAssigned
			}
			if err := checkAvailable(current, req.Quantity); err != nil {
				return err
			}

			updated, err := p.ledger.upsertForMutation(ctx, tx, current, -req.Quantity, false, now)
			if err != nil {
				return err
			}

			created := domain.Sale{
				ID:               p.newID(),
				Key:              key,
				Quantity:         req.Quantity,
				OriginalQuantity: req.Quantity,
				UnitPrice:        price,
				Notes:            req.Notes,
				Actor:            actorOrDefault(req.Actor),
				Status:           domain.SaleStatusActive,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if err := tx.InsertSale(ctx, created); err != nil {
				return fmt.Errorf("insert sale: %w", err)
			}

			record = domain.AuditRecord{
				TransactionID:  p.newID(),
				Kind:           domain.KindSale,
				Key:            key,
				Direction:      domain.DirectionDecrease,
				Quantity:       req.Quantity,
				UnitPrice:      decimal.NewNullDecimal(price),
				Notes:          req.Notes,
				SaleID:         created.ID,
				Actor:          created.Actor,
				Timestamp:      now,
				QuantityBefore: current.CurrentQuantity,
				QuantityAfter:  updated.CurrentQuantity,
			}
			if err := p.audit.append(ctx, tx, &record); err != nil {
				return err
			}
			sale = created
			return nil
		})
		if err != nil {
			return err
		}
		p.notify(record)
		return nil
	})
	return sale, err
}

// AmendSale changes the quantity of a sale. The difference to the recorded
// quantity is booked as one adjustment linked to the sale.
func (p *TransactionProcessor) AmendSale(ctx context.Context, saleID string, newQuantity int, actor string) (domain.Sale, error) {
	if saleID == "" {
		return domain.Sale{}, &domain.ValidationError{Field: "sale_id", Reason: "is required"}
	}
	if err := validateQuantity("quantity", newQuantity); err != nil {
		return domain.Sale{}, err
	}
	original, err := p.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}

	var amended domain.Sale
	err = p.observe(ctx, "amend_sale", original.Key, func(ctx context.Context) error {
		var record *domain.AuditRecord
		err := p.commit(ctx, original.Key, func(ctx context.Context, tx port.LedgerTx) error {
			record = nil
			now := p.timestamp()
			sale, err := lockSale(ctx, tx, saleID)
			if err != nil {
				return err
			}

			delta := newQuantity - sale.Quantity
			if delta == 0 {
				amended = sale
				return nil
			}

			current, err := p.ledger.forUpdate(ctx, tx, sale.Key)
			if err != nil {
				return err
			}
			if !current.Exists() {
				return domain.ErrNoStockAssigned
			}

			direction := domain.DirectionIncrease
			if delta > 0 {
				direction = domain.DirectionDecrease
				if err := checkAvailable(current, delta); err != nil {
					return err
				}
			}

			reason := fmt.Sprintf("sale %s amended from %d to %d", sale.ID, sale.Quantity, newQuantity)
			var adjustment domain.AuditRecord
			if err := p.applyAdjustment(ctx, tx, current, direction, abs(delta), reason, sale.ID, actor, now, &adjustment); err != nil {
				return err
			}

			sale.Quantity = newQuantity
			sale.UpdatedAt = now
			if err := tx.UpdateSale(ctx, sale); err != nil {
				return fmt.Errorf("update sale %s: %w", sale.ID, err)
			}
			amended = sale
			record = &adjustment
			return nil
		})
		if err != nil {
			return err
		}
		if record != nil {
			p.notify(*record)
		}
		return nil
	})
	return amended, err
}

// ReverseSale restores every unit of a sale and marks it reversed.
func (p *TransactionProcessor) ReverseSale(ctx context.Context, saleID, actor string) error {
	if saleID == "" {
		return &domain.ValidationError{Field: "sale_id", Reason: "is required"}
	}
	original, err := p.GetSale(ctx, saleID)
	if err != nil {
		return err
	}

	return p.observe(ctx, "reverse_sale", original.Key, func(ctx context.Context) error {
		var record domain.AuditRecord
		err := p.commit(ctx, original.Key, func(ctx context.Context, tx port.LedgerTx) error {
			now := p.timestamp()
			sale, err := lockSale(ctx, tx, saleID)
			if err != nil {
				return err
			}
			current, err := p.ledger.forUpdate(ctx, tx, sale.Key)
			if err != nil {
				return err
			}
			if !current.Exists() {
				return domain.ErrNoStockAssigned
			}

			reason := fmt.Sprintf("sale %s reversed", sale.ID)
			if err := p.applyAdjustment(ctx, tx, current, domain.DirectionIncrease, sale.Quantity, reason, sale.ID, actor, now, &record); err != nil {
				return err
			}

			sale.Status = domain.SaleStatusReversed
			sale.UpdatedAt = now
			if err := tx.UpdateSale(ctx, sale); err != nil {
				return fmt.Errorf("update sale %s: %w", sale.ID, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		p.notify(record)
		return nil
	})
}

func (p *TransactionProcessor) GetSale(ctx context.Context, saleID string) (domain.Sale, error) {
	sale, err := p.db.GetSale(ctx, saleID)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("get sale %s: %w", saleID, err)
	}
	if sale == nil {
		return domain.Sale{}, &domain.NotFoundError{Resource: "sale", ID: saleID}
	}
	return *sale, nil
}

// ListSales returns sales newest first.
func (p *TransactionProcessor) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, &domain.ValidationError{Field: "to", Reason: "must not be before from"}
	}
	limit, err := pageLimit(filter.Offset, filter.Limit)
	if err != nil {
		return nil, err
	}
	filter.Limit = limit

	sales, err := p.db.ListSales(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	return sales, nil
}

// lockSale re-reads the sale inside the unit of work and rejects reversed sales.
func lockSale(ctx context.Context, tx port.LedgerTx, saleID string) (domain.Sale, error) {
	sale, err := tx.GetSaleForUpdate(ctx, saleID)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("read sale %s: %w", saleID, err)
	}
	if sale == nil {
		return domain.Sale{}, &domain.NotFoundError{Resource: "sale", ID: saleID}
	}
	if sale.Reversed() {
		return domain.Sale{}, domain.ErrSaleReversed
	}
	return *sale, nil
}

func (p *TransactionProcessor) releaseIdempotency(ctx context.Context, key string) {
	if err := p.idempotency.ReleaseIdempotency(context.WithoutCancel(ctx), key); err != nil {
		p.logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(err))
	}
}
