package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/petiteboutique/shop-api/internal/domain/coupon"
	"github.com/petiteboutique/shop-api/internal/domain/order"
	"github.com/petiteboutique/shop-api/internal/domain/product"
)

// errorResponse is the JSON body for every error status.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message})
}

// writeOrderError maps domain errors from order placement to HTTP
// responses. Unexpected errors become an opaque 500; the details are
// logged, never leaked.
func (h *Handler) writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrMissingShippingAddress):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, coupon.ErrInvalidCoupon),
		errors.Is(err, coupon.ErrCouponExpired),
		errors.Is(err, coupon.ErrCouponUsageLimitReached):
		writeError(w, http.StatusUnprocessableEntity, "invalid coupon code")
		return
	case errors.Is(err, order.ErrNumberConflict):
		// Safe for the caller to retry the whole request.
		writeError(w, http.StatusConflict, "order could not be allocated, retry")
		return
	}

	var (
		iqErr    *order.InvalidQuantityError
		pnfErr   *order.ProductNotFoundError
		stockErr *product.InsufficientStockError
	)
	switch {
	case errors.As(err, &iqErr):
		writeError(w, http.StatusUnprocessableEntity, iqErr.Error())
	case errors.As(err, &pnfErr):
		writeError(w, http.StatusNotFound, pnfErr.Error())
	case errors.As(err, &stockErr):
		writeError(w, http.StatusConflict, stockErr.Error())
	default:
		zctx.From(r.Context()).Error("Order placement failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
