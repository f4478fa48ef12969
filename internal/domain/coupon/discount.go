package coupon

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Discount calculates the amount c takes off subtotal. Percentages are
// clamped to [0, 100]; the result never exceeds subtotal and is rounded to
// the nearest whole currency unit.
func Discount(c *Coupon, subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}
	base := decimal.NewFromInt(subtotal)

	var amount decimal.Decimal
	switch c.DiscountType {
	case DiscountPercentage:
		pct := decimal.Min(decimal.Max(c.DiscountValue, decimal.Zero), hundred)
		amount = base.Mul(pct).Div(hundred)
	case DiscountFixedAmount:
		amount = c.DiscountValue
	default:
		return 0
	}

	amount = decimal.Min(floorAtZero(amount), base).Round(0)
	return amount.IntPart()
}

// floorAtZero clamps negative values to zero.
func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
