// Package handler exposes the HTTP surface of the backend: catalog reads,
// order placement, order tracking, admin status updates, and the payment
// provider webhook ingress.
package handler

import (
	"net/http"

	"github.com/petiteboutique/shop-api/internal/domain/order"
	"github.com/petiteboutique/shop-api/internal/domain/payment"
	"github.com/petiteboutique/shop-api/internal/domain/product"
	"github.com/petiteboutique/shop-api/internal/domain/shipping"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// PublicAPIKey is the payment provider's publishable key, exposed to
	// the storefront so the checkout widget can initialize.
	PublicAPIKey string
	// Currency is the store currency code, e.g. "eur".
	Currency string
	// DonationPercentage is echoed to the storefront configuration
	// endpoint so the widget can display the donation share.
	DonationPercentage string
}

// Handler wires the domain services to HTTP routes.
type Handler struct {
	products   product.Repository
	orders     order.Repository
	orderSvc   *order.Service
	reconciler *payment.Reconciler
	shipping   shipping.Calculator
	security   *Security
	cfg        Config
}

// New constructs a Handler with the required domain dependencies.
func New(
	cfg Config,
	products product.Repository,
	orders order.Repository,
	orderSvc *order.Service,
	reconciler *payment.Reconciler,
	shippingCalc shipping.Calculator,
	security *Security,
) *Handler {
	return &Handler{
		products:   products,
		orders:     orders,
		orderSvc:   orderSvc,
		reconciler: reconciler,
		shipping:   shippingCalc,
		security:   security,
		cfg:        cfg,
	}
}

// Register attaches all API routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/products", h.listProducts)
	mux.HandleFunc("GET /api/v1/products/{id}", h.getProduct)

	mux.HandleFunc("POST /api/v1/orders", h.withPrincipal(h.createOrder))
	mux.HandleFunc("GET /api/v1/orders", h.withPrincipal(h.listOrders))
	mux.HandleFunc("GET /api/v1/orders/track/{number}", h.trackOrder)
	mux.HandleFunc("PATCH /api/v1/orders/{id}/status", h.withPrincipal(h.updateOrderStatus))

	mux.HandleFunc("POST /api/v1/payment/webhooks", h.paymentWebhook)
	mux.HandleFunc("GET /api/v1/payment/products/{id}", h.validateProduct)
	mux.HandleFunc("GET /api/v1/payment/config", h.paymentConfig)
}

// paymentConfig serves the public storefront configuration for the
// checkout widget.
func (h *Handler) paymentConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"publicApiKey":       h.cfg.PublicAPIKey,
		"currency":           h.cfg.Currency,
		"donationPercentage": h.cfg.DonationPercentage,
	})
}
