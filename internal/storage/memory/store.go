// Package memory is an in-process store with snapshot isolation and
// first-committer-wins conflict detection. It backs local runs and tests.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/inventory"
	"github.com/xenking/kart-checkout/internal/domain/invoice"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

type versioned[T any] struct {
	value   T
	version uint64
}

// Store holds products, variants, coupons and invoices.
type Store struct {
	mu       sync.RWMutex
	products map[uuid.UUID]catalog.Product
	variants map[uuid.UUID]versioned[inventory.Variant]
	coupons  map[string]versioned[coupon.Coupon]
	invoices map[uuid.UUID]invoice.Invoice
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		products: make(map[uuid.UUID]catalog.Product),
		variants: make(map[uuid.UUID]versioned[inventory.Variant]),
		coupons:  make(map[string]versioned[coupon.Coupon]),
		invoices: make(map[uuid.UUID]invoice.Invoice),
	}
}

var (
	_ order.TxRunner  = (*Store)(nil)
	_ catalog.Catalog = (*Store)(nil)
	_ invoice.Reader  = (*Store)(nil)
)

// InTx runs fn against a snapshot taken now. On commit every variant or
// coupon written by fn must still carry the version seen in the snapshot,
// otherwise the transaction is discarded with *order.ConflictError.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := s.begin()
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(t)
}

func (s *Store) begin() *tx {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &tx{
		store:          s,
		products:       maps.Clone(s.products),
		variants:       maps.Clone(s.variants),
		coupons:        maps.Clone(s.coupons),
		dirtyVariants:  make(map[uuid.UUID]struct{}),
		dirtyCoupons:   make(map[string]struct{}),
		createdInvoice: make(map[uuid.UUID]invoice.Invoice),
	}
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range t.dirtyVariants {
		if s.variants[id].version != t.variants[id].version {
			return &order.ConflictError{Err: errConcurrentUpdate("variant " + id.String())}
		}
	}
	for code := range t.dirtyCoupons {
		if s.coupons[code].version != t.coupons[code].version {
			return &order.ConflictError{Err: errConcurrentUpdate("coupon " + code)}
		}
	}
	for id := range t.createdInvoice {
		if _, ok := s.invoices[id]; ok {
			return errDuplicateInvoice(id)
		}
	}

	for id := range t.dirtyVariants {
		v := t.variants[id]
		v.version++
		s.variants[id] = v
	}
	for code := range t.dirtyCoupons {
		c := t.coupons[code]
		c.version++
		s.coupons[code] = c
	}
	maps.Copy(s.invoices, t.createdInvoice)
	return nil
}

// PutProduct inserts or replaces a product.
func (s *Store) PutProduct(p catalog.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// GetProduct implements catalog.Catalog.
func (s *Store) GetProduct(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

// GetByID implements invoice.Reader.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, invoice.ErrNotFound
	}
	inv.Items = slices.Clone(inv.Items)
	return &inv, nil
}

// Invoices returns every committed invoice.
func (s *Store) Invoices() []invoice.Invoice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Collect(maps.Values(s.invoices))
}
