// Package notify delivers post-commit invoice notifications.
package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/invoice"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

// EventInvoiceCommitted is the type field of published events.
const EventInvoiceCommitted = "invoice.committed"

// Publisher is the part of *redis.Client used by Redis.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

var (
	_ order.Notifier = (*Redis)(nil)
	_ order.Notifier = (*Log)(nil)
)

// Redis publishes a confirmation event to a Redis channel. Mail and push
// workers subscribe to the channel.
type Redis struct {
	client  Publisher
	channel string
}

// NewRedis returns a Redis notifier publishing to channel.
func NewRedis(client Publisher, channel string) *Redis {
	return &Redis{client: client, channel: channel}
}

// Notify implements order.Notifier.
func (r *Redis) Notify(ctx context.Context, inv *invoice.Invoice) error {
	payload := Event(inv)
	receivers, err := r.client.Publish(ctx, r.channel, payload).Result()
	if err != nil {
		return errors.Wrapf(err, "publish to %s", r.channel)
	}
	zctx.From(ctx).Debug("Published invoice event",
		zap.String("channel", r.channel),
		zap.Stringer("invoice_id", inv.ID),
		zap.Int64("receivers", receivers),
	)
	return nil
}

// Log writes the confirmation to the context logger. It is used when no
// broker is configured.
type Log struct{}

// Notify implements order.Notifier.
func (Log) Notify(ctx context.Context, inv *invoice.Invoice) error {
	zctx.From(ctx).Info("Send order confirmation",
		zap.Stringer("invoice_id", inv.ID),
		zap.Stringer("owner_id", inv.OwnerID),
		zap.Int64("total_amount", inv.TotalAmount),
	)
	return nil
}

// Event encodes the confirmation event for inv.
func Event(inv *invoice.Invoice) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("type")
	e.Str(EventInvoiceCommitted)
	e.FieldStart("invoice_id")
	e.Str(inv.ID.String())
	e.FieldStart("owner_id")
	e.Str(inv.OwnerID.String())
	e.FieldStart("total_amount")
	e.Int64(inv.TotalAmount)
	e.FieldStart("coupon_code")
	if inv.CouponCode != nil {
		e.Str(*inv.CouponCode)
	} else {
		e.Null()
	}
	e.FieldStart("payment_status")
	e.Str(string(inv.PaymentStatus))
	e.FieldStart("order_status")
	e.Str(string(inv.OrderStatus))
	e.FieldStart("created_at")
	e.Str(inv.CreatedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
	return e.Bytes()
}
