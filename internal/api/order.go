package api

import (
	"context"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/inventory"
	"github.com/xenking/kart-checkout/internal/domain/invoice"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

// PlaceOrder handles POST /api/orders.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read request body", nil)
		return
	}
	req, err := decodeRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), nil)
		return
	}

	inv, err := h.committer.Commit(ctx, req)
	if err != nil {
		h.writeCommitError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusCreated, encodeInvoice(inv))
}

// GetOrder handles GET /api/orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "order not found", nil)
		return
	}

	inv, err := h.invoices.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, invoice.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found", nil)
			return
		}
		zctx.From(ctx).Error("Get order", zap.Stringer("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", nil)
		return
	}

	writeJSON(w, http.StatusOK, encodeInvoice(inv))
}

// writeCommitError maps the commit error taxonomy to HTTP statuses.
func (h *Handler) writeCommitError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		validation *order.ValidationError
		stock      *inventory.StockError
		couponErr  *coupon.CouponError
		exhausted  *order.ExhaustedError
	)
	switch {
	case errors.As(err, &validation):
		if len(validation.Fields) == 0 {
			writeError(w, http.StatusBadRequest, validation.Error(), nil)
			return
		}
		writeError(w, http.StatusBadRequest, "validation failed", validation.Fields)
	case errors.As(err, &stock):
		writeError(w, http.StatusUnprocessableEntity, stock.Error(), nil)
	case errors.As(err, &couponErr):
		writeError(w, http.StatusUnprocessableEntity, couponErr.Error(), nil)
	case errors.As(err, &exhausted):
		zctx.From(ctx).Warn("Order commit exhausted retries", zap.Error(err))
		writeError(w, http.StatusConflict, "order could not be committed due to concurrent updates, try again", nil)
	case errors.Is(err, context.Canceled):
		zctx.From(ctx).Debug("Order commit cancelled", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "request cancelled", nil)
	default:
		zctx.From(ctx).Error("Order commit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}
