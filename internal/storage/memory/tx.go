package memory

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/inventory"
	"github.com/xenking/kart-checkout/internal/domain/invoice"
)

func errConcurrentUpdate(what string) error {
	return errors.Errorf("%s was updated by a concurrent transaction", what)
}

func errDuplicateInvoice(id uuid.UUID) error {
	return errors.Errorf("invoice %s already exists", id)
}

// tx is a private snapshot plus a write set.
type tx struct {
	store          *Store
	products       map[uuid.UUID]catalog.Product
	variants       map[uuid.UUID]versioned[inventory.Variant]
	coupons        map[string]versioned[coupon.Coupon]
	dirtyVariants  map[uuid.UUID]struct{}
	dirtyCoupons   map[string]struct{}
	createdInvoice map[uuid.UUID]invoice.Invoice
}

func (t *tx) Catalog() catalog.Catalog    { return (*productReader)(t) }
func (t *tx) Inventory() inventory.Ledger { return (*variantLedger)(t) }
func (t *tx) Coupons() coupon.Ledger      { return (*couponLedger)(t) }
func (t *tx) Invoices() invoice.Writer    { return (*invoiceWriter)(t) }

type productReader tx

func (r *productReader) GetProduct(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, ok := r.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

type variantLedger tx

func (l *variantLedger) Reserve(ctx context.Context, variantID, productID uuid.UUID, quantity int) (*inventory.Variant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := l.variants[variantID]
	if !ok || v.value.ProductID != productID || quantity < 1 || v.value.Stock < int64(quantity) {
		return nil, &inventory.StockError{ProductID: productID, VariantID: variantID, Requested: quantity}
	}
	v.value.Stock -= int64(quantity)
	l.variants[variantID] = v
	l.dirtyVariants[variantID] = struct{}{}

	out := v.value
	return &out, nil
}

func (l *variantLedger) Release(ctx context.Context, variantID uuid.UUID, quantity int) (*inventory.Variant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := l.variants[variantID]
	if !ok || quantity < 1 {
		return nil, &inventory.StockError{VariantID: variantID, Requested: quantity}
	}
	v.value.Stock += int64(quantity)
	l.variants[variantID] = v
	l.dirtyVariants[variantID] = struct{}{}

	out := v.value
	return &out, nil
}

type couponLedger tx

func (l *couponLedger) FindRedeemable(ctx context.Context, code string, now time.Time) (*coupon.Coupon, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, ok := l.coupons[code]
	if !ok || !c.value.Redeemable(now) {
		return nil, coupon.ErrNotFound
	}
	out := c.value
	return &out, nil
}

func (l *couponLedger) Redeem(ctx context.Context, code string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c, ok := l.coupons[code]
	if !ok || !c.value.Redeemable(now) {
		return false, nil
	}
	c.value.UsedCount++
	l.coupons[code] = c
	l.dirtyCoupons[code] = struct{}{}
	return true, nil
}

type invoiceWriter tx

func (w *invoiceWriter) Create(ctx context.Context, inv *invoice.Invoice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := w.createdInvoice[inv.ID]; ok {
		return errDuplicateInvoice(inv.ID)
	}
	stored := *inv
	stored.Items = slices.Clone(inv.Items)
	w.createdInvoice[inv.ID] = stored
	return nil
}
