package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-checkout/internal/domain/invoice"
)

const (
	createInvoiceSQL = `INSERT INTO invoices (id, owner_id, items, subtotal, discount_amount,
		delivery_fee, total_amount, coupon_code, payment_method, payment_status, order_status,
		shipping_street, shipping_city, shipping_state, shipping_country, shipping_zip,
		created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	getInvoiceSQL = `SELECT id, owner_id, items, subtotal, discount_amount,
		delivery_fee, total_amount, coupon_code, payment_method, payment_status, order_status,
		shipping_street, shipping_city, shipping_state, shipping_country, shipping_zip,
		created_at, updated_at
		FROM invoices WHERE id = $1`
)

// itemRow is the JSONB representation of an invoice item.
type itemRow struct {
	ProductID       uuid.UUID  `json:"product_id"`
	VariantID       *uuid.UUID `json:"variant_id,omitempty"`
	Name            string     `json:"name"`
	Quantity        int        `json:"quantity"`
	PriceAtPurchase int64      `json:"price_at_purchase"`
}

var _ invoice.Writer = (*InvoiceWriter)(nil)

// InvoiceWriter implements invoice.Writer.
type InvoiceWriter struct {
	q Querier
}

// Create implements invoice.Writer.
func (w *InvoiceWriter) Create(ctx context.Context, inv *invoice.Invoice) error {
	rows := make([]itemRow, len(inv.Items))
	for i, it := range inv.Items {
		rows[i] = itemRow(it)
	}
	itemsJSON, err := json.Marshal(rows)
	if err != nil {
		return errors.Wrap(err, "marshal invoice items")
	}

	addr := inv.ShippingAddress
	if _, err := w.q.Exec(ctx, createInvoiceSQL,
		inv.ID, inv.OwnerID, itemsJSON, inv.Subtotal, inv.DiscountAmount,
		inv.DeliveryFee, inv.TotalAmount, inv.CouponCode,
		string(inv.PaymentMethod), string(inv.PaymentStatus), string(inv.OrderStatus),
		addr.Street, addr.City, addr.State, addr.Country, addr.Zip,
		inv.CreatedAt, inv.UpdatedAt,
	); err != nil {
		return errors.Wrapf(err, "insert invoice %s", inv.ID)
	}
	return nil
}

// GetByID implements invoice.Reader.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
	rows, err := s.db.Query(ctx, getInvoiceSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get invoice %s", id)
	}

	inv, err := pgx.CollectExactlyOneRow(rows, scanInvoice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invoice.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get invoice %s", id)
	}
	return &inv, nil
}

func scanInvoice(row pgx.CollectableRow) (invoice.Invoice, error) {
	var (
		inv           invoice.Invoice
		itemsJSON     []byte
		paymentMethod string
		paymentStatus string
		orderStatus   string
		addr          = &inv.ShippingAddress
	)
	if err := row.Scan(
		&inv.ID, &inv.OwnerID, &itemsJSON, &inv.Subtotal, &inv.DiscountAmount,
		&inv.DeliveryFee, &inv.TotalAmount, &inv.CouponCode,
		&paymentMethod, &paymentStatus, &orderStatus,
		&addr.Street, &addr.City, &addr.State, &addr.Country, &addr.Zip,
		&inv.CreatedAt, &inv.UpdatedAt,
	); err != nil {
		return inv, err
	}
	inv.PaymentMethod = invoice.PaymentMethod(paymentMethod)
	inv.PaymentStatus = invoice.PaymentStatus(paymentStatus)
	inv.OrderStatus = invoice.OrderStatus(orderStatus)

	var rows []itemRow
	if err := json.Unmarshal(itemsJSON, &rows); err != nil {
		return inv, errors.Wrap(err, "unmarshal invoice items")
	}
	inv.Items = make([]invoice.Item, len(rows))
	for i, r := range rows {
		inv.Items[i] = invoice.Item(r)
	}
	return inv, nil
}
