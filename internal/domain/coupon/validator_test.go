package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLedger emulates the guarded lookup and increment of a real store.
type mockLedger struct {
	coupon    *Coupon
	findErr   error
	redeemErr error
	// stealUse simulates a concurrent commit consuming the last use between
	// lookup and increment.
	stealUse bool
	redeemed []string
}

func (m *mockLedger) FindRedeemable(_ context.Context, code string, now time.Time) (*Coupon, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.coupon == nil || m.coupon.Code != code || !m.coupon.Redeemable(now) {
		return nil, ErrNotFound
	}
	c := *m.coupon
	return &c, nil
}

func (m *mockLedger) Redeem(_ context.Context, code string, now time.Time) (bool, error) {
	if m.redeemErr != nil {
		return false, m.redeemErr
	}
	if m.stealUse {
		m.coupon.UsedCount = m.coupon.MaxUses
	}
	if !m.coupon.Redeemable(now) {
		return false, nil
	}
	m.coupon.UsedCount++
	m.redeemed = append(m.redeemed, code)
	return true, nil
}

func TestValidator_ValidateAndLock(t *testing.T) {
	fixedNow := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	future := fixedNow.Add(24 * time.Hour)
	past := fixedNow.Add(-24 * time.Hour)

	tests := []struct {
		name       string
		ledger     *mockLedger
		code       string
		subtotal   int64
		wantAmount int64
		wantReason string
		wantUsed   int
	}{
		{
			name: "percentage coupon applies and is redeemed",
			ledger: &mockLedger{coupon: &Coupon{
				Code: "SAVE10", DiscountType: DiscountPercentage, DiscountValue: d("10"),
				MaxUses: 1, ExpiresAt: future, IsActive: true,
			}},
			code:       "save10",
			subtotal:   1000,
			wantAmount: 100,
			wantUsed:   1,
		},
		{
			name:       "unknown code",
			ledger:     &mockLedger{},
			code:       "BOGUS",
			subtotal:   1000,
			wantReason: ReasonInvalid,
		},
		{
			name: "expired coupon",
			ledger: &mockLedger{coupon: &Coupon{
				Code: "OLD", DiscountType: DiscountFixedAmount, DiscountValue: d("5"),
				MaxUses: 10, ExpiresAt: past, IsActive: true,
			}},
			code:       "OLD",
			subtotal:   1000,
			wantReason: ReasonInvalid,
		},
		{
			name: "inactive coupon",
			ledger: &mockLedger{coupon: &Coupon{
				Code: "OFF", DiscountType: DiscountFixedAmount, DiscountValue: d("5"),
				MaxUses: 10, ExpiresAt: future,
			}},
			code:       "OFF",
			subtotal:   1000,
			wantReason: ReasonInvalid,
		},
		{
			name: "exhausted coupon",
			ledger: &mockLedger{coupon: &Coupon{
				Code: "GONE", DiscountType: DiscountFixedAmount, DiscountValue: d("5"),
				MaxUses: 3, UsedCount: 3, ExpiresAt: future, IsActive: true,
			}},
			code:       "GONE",
			subtotal:   1000,
			wantReason: ReasonInvalid,
			wantUsed:   3,
		},
		{
			name: "minimum purchase not met leaves usage untouched",
			ledger: &mockLedger{coupon: &Coupon{
				Code: "BIG", DiscountType: DiscountFixedAmount, DiscountValue: d("50"),
				MinPurchaseAmount: 5000, MaxUses: 10, ExpiresAt: future, IsActive: true,
			}},
			code:       "BIG",
			subtotal:   4999,
			wantReason: ReasonMinimumPurchase,
		},
		{
			name: "minimum purchase met exactly",
			ledger: &mockLedger{coupon: &Coupon{
				Code: "BIG", DiscountType: DiscountFixedAmount, DiscountValue: d("50"),
				MinPurchaseAmount: 5000, MaxUses: 10, ExpiresAt: future, IsActive: true,
			}},
			code:       "BIG",
			subtotal:   5000,
			wantAmount: 50,
			wantUsed:   1,
		},
		{
			name: "last use taken between lookup and increment",
			ledger: &mockLedger{stealUse: true, coupon: &Coupon{
				Code: "RACE", DiscountType: DiscountFixedAmount, DiscountValue: d("5"),
				MaxUses: 1, ExpiresAt: future, IsActive: true,
			}},
			code:       "RACE",
			subtotal:   1000,
			wantReason: ReasonInvalid,
			wantUsed:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator()
			v.now = func() time.Time { return fixedNow }

			got, err := v.ValidateAndLock(context.Background(), tt.ledger, tt.code, tt.subtotal)

			if tt.wantReason != "" {
				var cErr *CouponError
				require.ErrorAs(t, err, &cErr)
				assert.Equal(t, tt.wantReason, cErr.Reason)
				assert.Nil(t, got)
			} else {
				require.NoError(t, err)
				require.NotNil(t, got)
				assert.Equal(t, tt.wantAmount, got.Amount)
			}
			if tt.ledger.coupon != nil {
				assert.Equal(t, tt.wantUsed, tt.ledger.coupon.UsedCount)
			}
		})
	}
}

func TestValidator_LedgerErrors(t *testing.T) {
	future := time.Now().Add(time.Hour)

	t.Run("lookup failure is wrapped", func(t *testing.T) {
		v := NewValidator()
		_, err := v.ValidateAndLock(context.Background(), &mockLedger{findErr: errors.New("db down")}, "X", 100)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "lookup coupon")
		var cErr *CouponError
		assert.False(t, errors.As(err, &cErr))
	})

	t.Run("redeem failure is wrapped", func(t *testing.T) {
		v := NewValidator()
		ledger := &mockLedger{
			redeemErr: errors.New("db down"),
			coupon: &Coupon{
				Code: "X", DiscountType: DiscountFixedAmount, DiscountValue: d("5"),
				MaxUses: 1, ExpiresAt: future, IsActive: true,
			},
		}
		_, err := v.ValidateAndLock(context.Background(), ledger, "X", 100)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "redeem coupon")
	})
}
