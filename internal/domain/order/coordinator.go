package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/invoice"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

// Coordinator executes single commit attempts.
type Coordinator struct {
	runner  TxRunner
	coupons *coupon.Validator
	now     func() time.Time
	newID   func() uuid.UUID
}

// NewCoordinator creates a Coordinator that runs attempts through runner.
// Product names and fallback prices are read inside the attempt's
// transaction.
func NewCoordinator(runner TxRunner) *Coordinator {
	return &Coordinator{
		runner:  runner,
		coupons: coupon.NewValidator(),
		now:     time.Now,
		newID:   uuid.New,
	}
}

// Attempt validates req and commits it in one transaction. Every stock
// reservation, the coupon redemption and the invoice insert either commit
// together or not at all.
func (c *Coordinator) Attempt(ctx context.Context, req Request) (*invoice.Invoice, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		return nil, &ValidationError{Fields: map[string]string{"owner_id": "must be a valid uuid"}}
	}

	var created *invoice.Invoice
	err = c.runner.InTx(ctx, func(ctx context.Context, tx Tx) error {
		inv, err := c.build(ctx, tx, ownerID, &req)
		if err != nil {
			return err
		}
		if err := tx.Invoices().Create(ctx, inv); err != nil {
			return errors.Wrap(err, "create invoice")
		}
		created = inv
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return created, nil
}

// build resolves items, reserves stock, redeems the coupon and prices the
// invoice.
func (c *Coordinator) build(ctx context.Context, tx Tx, ownerID uuid.UUID, req *Request) (*invoice.Invoice, error) {
	lg := zctx.From(ctx)

	items := make([]invoice.Item, 0, len(req.Items))
	for i, line := range req.Items {
		productID, err := uuid.Parse(line.ProductID)
		if err != nil {
			lg.Debug("Skipping line with malformed product id",
				zap.Int("line", i), zap.String("product_id", line.ProductID))
			continue
		}
		var variantID *uuid.UUID
		if line.VariantID != "" {
			id, err := uuid.Parse(line.VariantID)
			if err != nil {
				lg.Debug("Skipping line with malformed variant id",
					zap.Int("line", i), zap.String("variant_id", line.VariantID))
				continue
			}
			variantID = &id
		}

		p, err := tx.Catalog().GetProduct(ctx, productID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				return nil, &ValidationError{Fields: map[string]string{
					fmt.Sprintf("items[%d].product_id", i): "product not found",
				}}
			}
			return nil, errors.Wrapf(err, "get product %s", productID)
		}

		price := p.Price
		if variantID != nil {
			v, err := tx.Inventory().Reserve(ctx, *variantID, productID, line.Quantity)
			if err != nil {
				return nil, err
			}
			price = v.Price
		}

		items = append(items, invoice.Item{
			ProductID:       productID,
			VariantID:       variantID,
			Name:            p.Name,
			Quantity:        line.Quantity,
			PriceAtPurchase: price,
		})
	}
	if len(items) == 0 {
		return nil, &ValidationError{Fields: map[string]string{"items": "has no valid entries"}}
	}
	subtotal, err := pricing.Subtotal(items)
	if err != nil {
		return nil, err
	}

	var (
		discount   int64
		couponCode *string
	)
	if code := coupon.NormalizeCode(req.CouponCode); code != "" {
		applied, err := c.coupons.ValidateAndLock(ctx, tx.Coupons(), code, subtotal)
		if err != nil {
			return nil, err
		}
		discount = applied.Amount
		couponCode = &applied.Code
	}

	totals, err := pricing.Calculate(items, discount, req.DeliveryFee)
	if err != nil {
		return nil, err
	}

	paymentStatus, orderStatus := req.statuses()
	now := c.now().UTC()
	return &invoice.Invoice{
		ID:              c.newID(),
		OwnerID:         ownerID,
		Items:           items,
		Subtotal:        totals.Subtotal,
		DiscountAmount:  totals.DiscountAmount,
		DeliveryFee:     totals.DeliveryFee,
		TotalAmount:     totals.TotalAmount,
		CouponCode:      couponCode,
		PaymentMethod:   req.PaymentMethod,
		PaymentStatus:   paymentStatus,
		OrderStatus:     orderStatus,
		ShippingAddress: req.ShippingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}
