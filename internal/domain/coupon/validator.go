// Package coupon validates and redeems usage-limited discount codes.
package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Validator checks a coupon against an order subtotal and redeems it.
type Validator struct {
	now func() time.Time
}

// NewValidator creates a Validator that uses the wall clock.
func NewValidator() *Validator {
	return &Validator{now: time.Now}
}

// ValidateAndLock looks up a redeemable coupon, checks the minimum purchase,
// computes the discount and increments the usage counter through ledger.
// The increment repeats the lookup guard, so two commits racing between
// lookup and increment cannot oversell the coupon.
func (v *Validator) ValidateAndLock(ctx context.Context, ledger Ledger, code string, subtotal int64) (*Applied, error) {
	code = NormalizeCode(code)
	now := v.now()

	c, err := ledger.FindRedeemable(ctx, code, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &CouponError{Code: code, Reason: ReasonInvalid}
		}
		return nil, errors.Wrap(err, "lookup coupon")
	}

	if subtotal < c.MinPurchaseAmount {
		return nil, &CouponError{Code: code, Reason: ReasonMinimumPurchase}
	}

	amount := Discount(c, subtotal)

	ok, err := ledger.Redeem(ctx, code, now)
	if err != nil {
		return nil, errors.Wrap(err, "redeem coupon")
	}
	if !ok {
		return nil, &CouponError{Code: code, Reason: ReasonInvalid}
	}

	return &Applied{Code: c.Code, Amount: amount}, nil
}
