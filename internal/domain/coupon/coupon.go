package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the subtotal.
	DiscountPercentage DiscountType = "PERCENTAGE"
	// DiscountFixedAmount takes a fixed amount off the subtotal.
	DiscountFixedAmount DiscountType = "FIXED_AMOUNT"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixedAmount
}

// ErrNotFound is returned by Ledger.FindRedeemable when no active, unexpired
// coupon with remaining uses matches the code.
var ErrNotFound = errors.New("coupon not found")

// Reasons reported by CouponError.
const (
	ReasonInvalid         = "not found or invalid"
	ReasonMinimumPurchase = "minimum purchase not met"
)

// CouponError reports that a coupon cannot be applied to the order.
type CouponError struct {
	Code   string
	Reason string
}

func (e *CouponError) Error() string {
	return fmt.Sprintf("coupon %q: %s", e.Code, e.Reason)
}

// Coupon is a shared, usage-limited discount code.
type Coupon struct {
	Code              string
	DiscountType      DiscountType
	DiscountValue     decimal.Decimal
	MinPurchaseAmount int64
	MaxUses           int
	UsedCount         int
	ExpiresAt         time.Time
	IsActive          bool
	Description       string
}

// Redeemable reports whether the coupon can still be used at now.
func (c *Coupon) Redeemable(now time.Time) bool {
	return c.IsActive && now.Before(c.ExpiresAt) && c.UsedCount < c.MaxUses
}

// Applied is the result of a successful coupon redemption.
type Applied struct {
	Code   string
	Amount int64
}

// Ledger looks up and redeems coupons inside a commit transaction.
type Ledger interface {
	// FindRedeemable returns the coupon if it is active, unexpired at now and
	// has uses left, or ErrNotFound.
	FindRedeemable(ctx context.Context, code string, now time.Time) (*Coupon, error)
	// Redeem increments the usage counter under the same guard as
	// FindRedeemable. It reports false when the guard no longer holds.
	Redeem(ctx context.Context, code string, now time.Time) (bool, error)
}

// NormalizeCode trims and upper-cases a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
