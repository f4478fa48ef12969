// Package pricing computes invoice totals from line items.
package pricing

import (
	"math"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/invoice"
)

// ErrNegativeDeliveryFee is returned when the delivery fee is below zero.
var ErrNegativeDeliveryFee = errors.New("delivery fee must not be negative")

// ErrAmountOverflow is returned when an amount does not fit in int64.
var ErrAmountOverflow = errors.New("amount out of range")

// Totals are the monetary fields of an invoice.
type Totals struct {
	Subtotal       int64
	DiscountAmount int64
	DeliveryFee    int64
	TotalAmount    int64
}

// Subtotal sums PriceAtPurchase * Quantity over items.
func Subtotal(items []invoice.Item) (int64, error) {
	var sum int64
	for i, it := range items {
		line, ok := it.LineTotal()
		if !ok {
			return 0, errors.Wrapf(ErrAmountOverflow, "line %d", i)
		}
		if sum, ok = add(sum, line); !ok {
			return 0, errors.Wrapf(ErrAmountOverflow, "subtotal at line %d", i)
		}
	}
	return sum, nil
}

// add returns a+b for non-negative operands, or false on overflow.
func add(a, b int64) (int64, bool) {
	if b > math.MaxInt64-a {
		return 0, false
	}
	return a + b, true
}

// Calculate returns the totals for items with the given discount and delivery
// fee. The discount is clamped to [0, subtotal].
func Calculate(items []invoice.Item, discount, deliveryFee int64) (Totals, error) {
	if deliveryFee < 0 {
		return Totals{}, ErrNegativeDeliveryFee
	}

	subtotal, err := Subtotal(items)
	if err != nil {
		return Totals{}, err
	}
	discount = max(0, min(discount, subtotal))
	net := max(0, subtotal-discount)
	total, ok := add(net, deliveryFee)
	if !ok {
		return Totals{}, errors.Wrap(ErrAmountOverflow, "total")
	}

	return Totals{
		Subtotal:       subtotal,
		DiscountAmount: discount,
		DeliveryFee:    deliveryFee,
		TotalAmount:    total,
	}, nil
}
