// Package invoice holds the invoice aggregate produced by a committed order.
package invoice

import (
	"context"
	"math"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// ErrNotFound is returned when an invoice does not exist.
var ErrNotFound = errors.New("invoice not found")

// PaymentMethod enumerates how the customer pays.
type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentCard           PaymentMethod = "card"
	PaymentBankTransfer   PaymentMethod = "bank_transfer"
	PaymentWallet         PaymentMethod = "wallet"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCashOnDelivery, PaymentCard, PaymentBankTransfer, PaymentWallet:
		return true
	}
	return false
}

// PaymentStatus is the settlement state reported by the payment collaborator.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed:
		return true
	}
	return false
}

// OrderStatus is the fulfilment state of the order.
type OrderStatus string

const (
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
	OrderReturned   OrderStatus = "returned"
)

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled, OrderReturned:
		return true
	}
	return false
}

// Address is the shipping destination. Every field is required.
type Address struct {
	Street  string `json:"street" validate:"required"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state" validate:"required"`
	Country string `json:"country" validate:"required"`
	Zip     string `json:"zip" validate:"required"`
}

// Item is a line of a committed invoice. It is a snapshot taken at commit
// time and is never re-resolved against the catalog.
type Item struct {
	ProductID       uuid.UUID
	VariantID       *uuid.UUID
	Name            string
	Quantity        int
	PriceAtPurchase int64
}

// LineTotal returns PriceAtPurchase multiplied by Quantity. ok is false when
// the product does not fit in int64 or either factor is negative.
func (i Item) LineTotal() (total int64, ok bool) {
	if i.PriceAtPurchase < 0 || i.Quantity < 0 {
		return 0, false
	}
	if i.Quantity != 0 && i.PriceAtPurchase > math.MaxInt64/int64(i.Quantity) {
		return 0, false
	}
	return i.PriceAtPurchase * int64(i.Quantity), true
}

// Invoice is the durable record of one committed order. Amounts are whole
// currency units.
type Invoice struct {
	ID              uuid.UUID
	OwnerID         uuid.UUID
	Items           []Item
	Subtotal        int64
	DiscountAmount  int64
	DeliveryFee     int64
	TotalAmount     int64
	CouponCode      *string
	PaymentMethod   PaymentMethod
	PaymentStatus   PaymentStatus
	OrderStatus     OrderStatus
	ShippingAddress Address
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Balanced reports whether TotalAmount equals
// max(0, Subtotal-DiscountAmount) + DeliveryFee.
func (inv *Invoice) Balanced() bool {
	net := inv.Subtotal - inv.DiscountAmount
	if net < 0 {
		net = 0
	}
	return inv.TotalAmount == net+inv.DeliveryFee
}

// Writer persists new invoices. It is scoped to the commit transaction.
type Writer interface {
	Create(ctx context.Context, inv *Invoice) error
}

// Reader looks up committed invoices.
type Reader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
}
