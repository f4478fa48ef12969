// Package catalog describes the read-only view of the product catalog that
// order commit relies on for names and fallback prices.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is the catalog item as seen by checkout.
type Product struct {
	ID   uuid.UUID
	Name string
	// Price is used when a line item does not name a variant.
	Price int64
}

// Catalog resolves products by identifier.
type Catalog interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
}
