// Package api exposes order commit over HTTP with JSON bodies.
package api

import (
	"context"
	"net/http"

	"github.com/xenking/kart-checkout/internal/domain/invoice"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Committer commits order requests. *order.Committer implements it.
type Committer interface {
	Commit(ctx context.Context, req order.Request) (*invoice.Invoice, error)
}

// Handler serves the order endpoints.
type Handler struct {
	committer Committer
	invoices  invoice.Reader
	placeWrap func(http.Handler) http.Handler
}

// Option configures a Handler.
type Option func(*Handler)

// WithPlaceOrderMiddleware wraps only the order placement route, e.g. with a
// rate limiter.
func WithPlaceOrderMiddleware(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.placeWrap = mw
	}
}

// NewHandler returns a Handler committing through committer and reading
// invoices from invoices.
func NewHandler(committer Committer, invoices invoice.Reader, opts ...Option) *Handler {
	h := &Handler{committer: committer, invoices: invoices}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the order routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	var place http.Handler = http.HandlerFunc(h.PlaceOrder)
	if h.placeWrap != nil {
		place = h.placeWrap(place)
	}
	mux.Handle("POST /api/orders", place)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
}
