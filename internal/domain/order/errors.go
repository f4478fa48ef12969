package order

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/inventory"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

// ValidationError reports a malformed or incomplete request. Fields maps a
// JSON field path to a human readable problem.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed: " + e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString("validation failed: ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s %s", k, e.Fields[k])
	}
	return b.String()
}

// ConflictError reports that the transaction lost a write conflict or
// serialization check. The attempt may be retried from scratch.
type ConflictError struct {
	Err error
}

func (e *ConflictError) Error() string {
	if e.Err == nil {
		return "write conflict"
	}
	return "write conflict: " + e.Err.Error()
}

func (e *ConflictError) Unwrap() error { return e.Err }

// PersistenceError wraps any other storage failure.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return "persistence: " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ExhaustedError is returned when every attempt ended in a conflict.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("commit failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// IsRetryable reports whether err is a transient conflict that a fresh
// attempt may resolve.
func IsRetryable(err error) bool {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return false
	}
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// classify passes typed errors through and wraps anything else as
// PersistenceError.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var (
		validation  *ValidationError
		stock       *inventory.StockError
		couponErr   *coupon.CouponError
		conflict    *ConflictError
		persistence *PersistenceError
	)
	switch {
	case errors.As(err, &validation),
		errors.As(err, &stock),
		errors.As(err, &couponErr),
		errors.As(err, &conflict),
		errors.As(err, &persistence):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, pricing.ErrNegativeDeliveryFee):
		return &ValidationError{Fields: map[string]string{"delivery_fee": "must not be negative"}}
	case errors.Is(err, pricing.ErrAmountOverflow):
		return &ValidationError{Fields: map[string]string{"total_amount": "is out of range"}}
	}
	return &PersistenceError{Err: err}
}
