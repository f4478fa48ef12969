package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/inventory"
)

const (
	reserveStockSQL = `UPDATE variants SET stock = stock - $3
		WHERE id = $1 AND product_id = $2 AND stock >= $3
		RETURNING id, product_id, stock, price`

	releaseStockSQL = `UPDATE variants SET stock = stock + $2
		WHERE id = $1
		RETURNING id, product_id, stock, price`

	upsertVariantSQL = `INSERT INTO variants (id, product_id, stock, price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET product_id = EXCLUDED.product_id,
			stock = EXCLUDED.stock, price = EXCLUDED.price`
)

var _ inventory.Ledger = (*VariantLedger)(nil)

// VariantLedger implements inventory.Ledger with conditional UPDATEs.
type VariantLedger struct {
	q Querier
}

// NewVariantLedger returns a VariantLedger that runs on q, usually a
// transaction.
func NewVariantLedger(q Querier) *VariantLedger {
	return &VariantLedger{q: q}
}

// Reserve implements inventory.Ledger.
func (l *VariantLedger) Reserve(ctx context.Context, variantID, productID uuid.UUID, quantity int) (*inventory.Variant, error) {
	v, err := scanVariant(l.q.QueryRow(ctx, reserveStockSQL, variantID, productID, quantity))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &inventory.StockError{ProductID: productID, VariantID: variantID, Requested: quantity}
		}
		return nil, errors.Wrapf(err, "reserve variant %s", variantID)
	}
	return v, nil
}

// Release implements inventory.Ledger.
func (l *VariantLedger) Release(ctx context.Context, variantID uuid.UUID, quantity int) (*inventory.Variant, error) {
	v, err := scanVariant(l.q.QueryRow(ctx, releaseStockSQL, variantID, quantity))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &inventory.StockError{VariantID: variantID, Requested: quantity}
		}
		return nil, errors.Wrapf(err, "release variant %s", variantID)
	}
	return v, nil
}

// UpsertVariant inserts or replaces a variant.
func UpsertVariant(ctx context.Context, q Querier, v inventory.Variant) error {
	if _, err := q.Exec(ctx, upsertVariantSQL, v.ID, v.ProductID, v.Stock, v.Price); err != nil {
		return errors.Wrapf(err, "upsert variant %s", v.ID)
	}
	return nil
}

func scanVariant(row pgx.Row) (*inventory.Variant, error) {
	var v inventory.Variant
	if err := row.Scan(&v.ID, &v.ProductID, &v.Stock, &v.Price); err != nil {
		return nil, err
	}
	return &v, nil
}
