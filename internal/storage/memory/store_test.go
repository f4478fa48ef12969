package memory

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/inventory"
	"github.com/xenking/kart-checkout/internal/domain/invoice"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

func seedVariant(s *Store, stock int64) inventory.Variant {
	v := inventory.Variant{ID: uuid.New(), ProductID: uuid.New(), Stock: stock, Price: 250}
	s.PutVariant(v)
	return v
}

func TestStore_ReserveGuard(t *testing.T) {
	ctx := context.Background()
	s := New()
	v := seedVariant(s, 3)

	tests := []struct {
		name      string
		variantID uuid.UUID
		productID uuid.UUID
		quantity  int
		wantStock int64
		wantErr   bool
	}{
		{name: "enough stock", variantID: v.ID, productID: v.ProductID, quantity: 2, wantStock: 1},
		{name: "exact stock", variantID: v.ID, productID: v.ProductID, quantity: 3, wantStock: 0},
		{name: "insufficient stock", variantID: v.ID, productID: v.ProductID, quantity: 4, wantErr: true},
		{name: "wrong product", variantID: v.ID, productID: uuid.New(), quantity: 1, wantErr: true},
		{name: "unknown variant", variantID: uuid.New(), productID: v.ProductID, quantity: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errRollback := errors.New("rollback")
			err := s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
				got, err := tx.Inventory().Reserve(ctx, tt.variantID, tt.productID, tt.quantity)
				if tt.wantErr {
					var stockErr *inventory.StockError
					require.ErrorAs(t, err, &stockErr)
					assert.Equal(t, tt.quantity, stockErr.Requested)
					return errRollback
				}
				require.NoError(t, err)
				assert.Equal(t, tt.wantStock, got.Stock)
				return errRollback
			})
			require.ErrorIs(t, err, errRollback)

			cur, ok := s.Variant(v.ID)
			require.True(t, ok)
			assert.Equal(t, int64(3), cur.Stock, "rolled back transaction must not change stock")
		})
	}
}

func TestStore_CommitApplies(t *testing.T) {
	ctx := context.Background()
	s := New()
	v := seedVariant(s, 5)

	err := s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		if _, err := tx.Inventory().Reserve(ctx, v.ID, v.ProductID, 2); err != nil {
			return err
		}
		_, err := tx.Inventory().Release(ctx, v.ID, 1)
		return err
	})
	require.NoError(t, err)

	cur, _ := s.Variant(v.ID)
	assert.Equal(t, int64(4), cur.Stock)
}

func TestStore_FirstCommitterWins(t *testing.T) {
	ctx := context.Background()
	s := New()
	v := seedVariant(s, 1)

	inner := make(chan error, 1)
	err := s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		if _, err := tx.Inventory().Reserve(ctx, v.ID, v.ProductID, 1); err != nil {
			return err
		}
		// A second transaction starts and commits while this one is open.
		inner <- s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
			_, err := tx.Inventory().Reserve(ctx, v.ID, v.ProductID, 1)
			return err
		})
		return nil
	})

	require.NoError(t, <-inner)
	var conflict *order.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.True(t, order.IsRetryable(err))

	cur, _ := s.Variant(v.ID)
	assert.Equal(t, int64(0), cur.Stock)
}

func TestStore_DisjointWritesDoNotConflict(t *testing.T) {
	ctx := context.Background()
	s := New()
	a := seedVariant(s, 1)
	b := seedVariant(s, 1)

	inner := make(chan error, 1)
	err := s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		if _, err := tx.Inventory().Reserve(ctx, a.ID, a.ProductID, 1); err != nil {
			return err
		}
		inner <- s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
			_, err := tx.Inventory().Reserve(ctx, b.ID, b.ProductID, 1)
			return err
		})
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, <-inner)
}

func TestStore_CouponRedeem(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := New()
	s.PutCoupon(coupon.Coupon{
		Code:          "save10",
		DiscountType:  coupon.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10),
		MaxUses:       1,
		ExpiresAt:     now.Add(time.Hour),
		IsActive:      true,
	})

	err := s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		c, err := tx.Coupons().FindRedeemable(ctx, "SAVE10", now)
		require.NoError(t, err)
		assert.Equal(t, "SAVE10", c.Code)

		ok, err := tx.Coupons().Redeem(ctx, "SAVE10", now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.Coupons().Redeem(ctx, "SAVE10", now)
		require.NoError(t, err)
		assert.False(t, ok, "second redeem exceeds max uses")

		_, err = tx.Coupons().FindRedeemable(ctx, "SAVE10", now)
		require.ErrorIs(t, err, coupon.ErrNotFound)
		return nil
	})
	require.NoError(t, err)

	c, ok := s.Coupon("save10")
	require.True(t, ok)
	assert.Equal(t, 1, c.UsedCount)
}

func TestStore_InvoiceVisibleAfterCommit(t *testing.T) {
	ctx := context.Background()
	s := New()
	inv := &invoice.Invoice{ID: uuid.New(), Items: []invoice.Item{{Name: "a", Quantity: 1}}}

	err := s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		require.NoError(t, tx.Invoices().Create(ctx, inv))
		_, err := s.GetByID(ctx, inv.ID)
		require.ErrorIs(t, err, invoice.ErrNotFound)
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, got.ID)
	assert.Len(t, s.Invoices(), 1)
}

func TestStore_CancelledContextRollsBack(t *testing.T) {
	s := New()
	v := seedVariant(s, 2)
	ctx, cancel := context.WithCancel(context.Background())

	err := s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		if _, err := tx.Inventory().Reserve(ctx, v.ID, v.ProductID, 1); err != nil {
			return err
		}
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	cur, _ := s.Variant(v.ID)
	assert.Equal(t, int64(2), cur.Stock)
}

func TestStore_GetProduct(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := catalog.Product{ID: uuid.New(), Name: "Shirt", Price: 900}
	s.PutProduct(p)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, *got)

	_, err = s.GetProduct(ctx, uuid.New())
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestStore_TxCatalogReadsSnapshot(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := catalog.Product{ID: uuid.New(), Name: "Shirt", Price: 900}
	s.PutProduct(p)

	err := s.InTx(ctx, func(ctx context.Context, tx order.Tx) error {
		s.PutProduct(catalog.Product{ID: p.ID, Name: "Shirt", Price: 1200})

		got, err := tx.Catalog().GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(900), got.Price)

		_, err = tx.Catalog().GetProduct(ctx, uuid.New())
		require.ErrorIs(t, err, catalog.ErrNotFound)
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), got.Price)
}
