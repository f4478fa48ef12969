package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/catalog"
)

const (
	getProductSQL = `SELECT id, name, price FROM products WHERE id = $1`

	upsertProductSQL = `INSERT INTO products (id, name, price) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price`
)

// ProductReader reads products through q, which may be a transaction.
type ProductReader struct {
	q Querier
}

// NewProductReader returns a ProductReader querying through q.
func NewProductReader(q Querier) *ProductReader {
	return &ProductReader{q: q}
}

// GetProduct implements catalog.Catalog outside of any commit transaction.
func (s *Store) GetProduct(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	return NewProductReader(s.db).GetProduct(ctx, id)
}

// GetProduct implements catalog.Catalog.
func (r *ProductReader) GetProduct(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	var p catalog.Product
	err := r.q.QueryRow(ctx, getProductSQL, id).Scan(&p.ID, &p.Name, &p.Price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %s", id)
	}
	return &p, nil
}

// UpsertProduct inserts or replaces a product.
func UpsertProduct(ctx context.Context, q Querier, p catalog.Product) error {
	if _, err := q.Exec(ctx, upsertProductSQL, p.ID, p.Name, p.Price); err != nil {
		return errors.Wrapf(err, "upsert product %s", p.ID)
	}
	return nil
}
