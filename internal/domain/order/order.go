// Package order turns shopping requests into committed invoices.
//
// A Coordinator runs one commit attempt inside a single snapshot-isolated
// transaction: it reserves stock for every line, redeems the coupon, prices
// the order and writes the invoice. A Committer drives attempts through a
// small state machine and retries only write conflicts.
package order

import (
	"context"
	"reflect"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/inventory"
	"github.com/xenking/kart-checkout/internal/domain/invoice"
)

// PaymentCancelled is accepted as an input payment status. It is stored as
// invoice.PaymentFailed and cancels the order.
const PaymentCancelled = "cancelled"

// MaxQuantity bounds the quantity of a single line.
const MaxQuantity = 10000

// LineItem is one requested line. Identifiers are kept as strings so that
// malformed ones can be skipped instead of failing the whole request.
type LineItem struct {
	ProductID string `json:"product_id" validate:"required"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity" validate:"gte=1,lte=10000"`
}

// Request is the input of a commit.
type Request struct {
	OwnerID         string                `json:"owner_id" validate:"required,uuid"`
	Items           []LineItem            `json:"items" validate:"required,min=1,dive"`
	PaymentMethod   invoice.PaymentMethod `json:"payment_method" validate:"payment_method"`
	PaymentStatus   string                `json:"payment_status,omitempty" validate:"omitempty,payment_status"`
	ShippingAddress invoice.Address       `json:"shipping_address"`
	DeliveryFee     int64                 `json:"delivery_fee" validate:"gte=0"`
	CouponCode      string                `json:"coupon_code,omitempty"`
}

// statuses derives the stored payment and order status from the input.
func (r *Request) statuses() (invoice.PaymentStatus, invoice.OrderStatus) {
	switch r.PaymentStatus {
	case "":
		return invoice.PaymentPending, invoice.OrderProcessing
	case PaymentCancelled, string(invoice.PaymentFailed):
		return invoice.PaymentFailed, invoice.OrderCancelled
	default:
		return invoice.PaymentStatus(r.PaymentStatus), invoice.OrderProcessing
	}
}

// Tx is the set of ledgers bound to one commit transaction. Catalog reads
// go through the same transaction and see its snapshot.
type Tx interface {
	Catalog() catalog.Catalog
	Inventory() inventory.Ledger
	Coupons() coupon.Ledger
	Invoices() invoice.Writer
}

// TxRunner executes fn inside a snapshot-isolated transaction. The
// transaction commits only if fn returns nil. A lost write conflict, at any
// point including commit, is reported as *ConflictError.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Notifier is told about committed invoices. It runs after commit and its
// failures never affect the order.
type Notifier interface {
	Notify(ctx context.Context, inv *invoice.Invoice) error
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	_ = v.RegisterValidation("payment_method", func(fl validator.FieldLevel) bool {
		return invoice.PaymentMethod(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("payment_status", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == PaymentCancelled || invoice.PaymentStatus(s).Valid()
	})
	return v
}

// Validate checks the shape of r.
func (r *Request) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return &ValidationError{Message: err.Error()}
	}
	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		fields[fieldPath(fe)] = validationMessage(fe)
	}
	return &ValidationError{Fields: fields}
}

// fieldPath strips the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must have at least " + fe.Param() + " entries"
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "uuid":
		return "must be a valid uuid"
	}
	return "is invalid"
}
