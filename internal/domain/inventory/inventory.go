// Package inventory defines per-variant stock and the ledger contract used to
// reserve it during order commit.
package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Variant is a purchasable configuration of a product with its own stock.
type Variant struct {
	ID        uuid.UUID
	ProductID uuid.UUID
	Stock     int64
	Price     int64
}

// StockError reports that a variant could not be reserved. A missing
// variant, a variant of another product and insufficient stock all look the
// same to the conditional write, so they share this error.
type StockError struct {
	ProductID uuid.UUID
	VariantID uuid.UUID
	Requested int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %s of product %s (requested %d)",
		e.VariantID, e.ProductID, e.Requested)
}

// Ledger mutates variant stock. Implementations must apply each change as a
// single conditional write, never as read-then-write in application memory.
type Ledger interface {
	// Reserve decrements stock by quantity if the variant belongs to
	// productID and has at least quantity units left. It returns the updated
	// variant or *StockError.
	Reserve(ctx context.Context, variantID, productID uuid.UUID, quantity int) (*Variant, error)
	// Release increments stock by quantity.
	Release(ctx context.Context, variantID uuid.UUID, quantity int) (*Variant, error)
}
