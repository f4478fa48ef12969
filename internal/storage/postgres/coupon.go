package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

const (
	findRedeemableCouponSQL = `SELECT code, discount_type, discount_value, min_purchase_amount,
		max_uses, used_count, expires_at, is_active, description
		FROM coupons
		WHERE code = $1 AND is_active AND expires_at > $2 AND used_count < max_uses`

	redeemCouponSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE code = $1 AND is_active AND expires_at > $2 AND used_count < max_uses`

	upsertCouponSQL = `INSERT INTO coupons (code, discount_type, discount_value, min_purchase_amount,
		max_uses, used_count, expires_at, is_active, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (code) DO UPDATE SET discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			min_purchase_amount = EXCLUDED.min_purchase_amount,
			max_uses = EXCLUDED.max_uses,
			expires_at = EXCLUDED.expires_at,
			is_active = EXCLUDED.is_active,
			description = EXCLUDED.description`
)

var _ coupon.Ledger = (*CouponLedger)(nil)

// CouponLedger implements coupon.Ledger.
type CouponLedger struct {
	q Querier
}

// NewCouponLedger returns a CouponLedger that runs on q.
func NewCouponLedger(q Querier) *CouponLedger {
	return &CouponLedger{q: q}
}

// FindRedeemable implements coupon.Ledger.
func (l *CouponLedger) FindRedeemable(ctx context.Context, code string, now time.Time) (*coupon.Coupon, error) {
	rows, err := l.q.Query(ctx, findRedeemableCouponSQL, code, now)
	if err != nil {
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, errors.Wrapf(err, "find coupon %q", code)
	}
	return &c, nil
}

// Redeem implements coupon.Ledger.
func (l *CouponLedger) Redeem(ctx context.Context, code string, now time.Time) (bool, error) {
	tag, err := l.q.Exec(ctx, redeemCouponSQL, code, now)
	if err != nil {
		return false, errors.Wrapf(err, "redeem coupon %q", code)
	}
	return tag.RowsAffected() == 1, nil
}

// UpsertCoupon inserts a coupon or updates its definition. An existing
// usage counter is left untouched.
func UpsertCoupon(ctx context.Context, q Querier, c coupon.Coupon) error {
	code := coupon.NormalizeCode(c.Code)
	if _, err := q.Exec(ctx, upsertCouponSQL,
		code, string(c.DiscountType), c.DiscountValue, c.MinPurchaseAmount,
		c.MaxUses, c.UsedCount, c.ExpiresAt, c.IsActive, c.Description,
	); err != nil {
		return errors.Wrapf(err, "upsert coupon %q", code)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
	)
	err := row.Scan(
		&c.Code, &discountType, &c.DiscountValue, &c.MinPurchaseAmount,
		&c.MaxUses, &c.UsedCount, &c.ExpiresAt, &c.IsActive, &c.Description,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	return c, err
}
