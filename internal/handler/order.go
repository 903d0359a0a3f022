package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/petiteboutique/shop-api/internal/domain/order"
	"github.com/petiteboutique/shop-api/internal/domain/shipping"
)

type orderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type orderRequest struct {
	Items           []orderItemRequest `json:"items"`
	ShippingAddress order.Address      `json:"shippingAddress"`
	BillingAddress  *order.Address     `json:"billingAddress,omitempty"`
	PaymentMethod   string             `json:"paymentMethod"`
	ShippingMethod  string             `json:"shippingMethod,omitempty"`
	CouponCode      string             `json:"couponCode,omitempty"`
	GuestEmail      string             `json:"guestEmail,omitempty"`
	GuestName       string             `json:"guestName,omitempty"`
}

type orderItemResponse struct {
	ProductID string  `json:"productId,omitempty"`
	SKU       string  `json:"sku"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unitPrice"`
	Quantity  int     `json:"quantity"`
	Subtotal  float64 `json:"subtotal"`
}

type statusChangeResponse struct {
	Status string    `json:"status"`
	At     time.Time `json:"at"`
	Note   string    `json:"note,omitempty"`
}

type orderResponse struct {
	ID             string                 `json:"id"`
	Number         string                 `json:"number"`
	Items          []orderItemResponse    `json:"items"`
	Subtotal       float64                `json:"subtotal"`
	Discount       float64                `json:"discount"`
	Tax            float64                `json:"tax"`
	ShippingCost   float64                `json:"shippingCost"`
	Total          float64                `json:"total"`
	DonationAmount float64                `json:"donationAmount"`
	PaymentStatus  string                 `json:"paymentStatus"`
	Status         string                 `json:"status"`
	StatusHistory  []statusChangeResponse `json:"statusHistory,omitempty"`
	CreatedAt      time.Time              `json:"createdAt"`
}

func toOrderResponse(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemResponse{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			UnitPrice: item.UnitPrice.InexactFloat64(),
			Quantity:  item.Quantity,
			Subtotal:  item.Subtotal.InexactFloat64(),
		}
	}
	history := make([]statusChangeResponse, len(o.StatusHistory))
	for i, c := range o.StatusHistory {
		history[i] = statusChangeResponse{Status: string(c.Status), At: c.At, Note: c.Note}
	}
	return orderResponse{
		ID:             o.ID,
		Number:         o.Number,
		Items:          items,
		Subtotal:       o.Subtotal.InexactFloat64(),
		Discount:       o.Discount.InexactFloat64(),
		Tax:            o.Tax.InexactFloat64(),
		ShippingCost:   o.ShippingCost.InexactFloat64(),
		Total:          o.Total.InexactFloat64(),
		DonationAmount: o.DonationAmount.InexactFloat64(),
		PaymentStatus:  string(o.PaymentStatus),
		Status:         string(o.Status),
		StatusHistory:  history,
		CreatedAt:      o.CreatedAt,
	}
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	items := make([]order.CartItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = order.CartItem{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	placeReq := order.PlaceOrderRequest{
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		PaymentMethod:   req.PaymentMethod,
		ShippingMethod:  shipping.Method(req.ShippingMethod),
		CouponCode:      req.CouponCode,
		GuestEmail:      req.GuestEmail,
		GuestName:       req.GuestName,
	}
	// Authenticated callers order under their own identity; everyone else
	// checks out as a guest.
	if p, ok := h.principal(r); ok {
		placeReq.UserID = p.UserID
	}

	o, err := h.orderSvc.PlaceOrder(r.Context(), placeReq)
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}

	zctx.From(r.Context()).Info("Order created", zap.String("number", o.Number))
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	filter := order.ListFilter{
		Status: order.Status(r.URL.Query().Get("status")),
		Limit:  50,
	}
	if !p.IsAdmin() {
		filter.UserID = p.UserID
	}

	list, err := h.orders.List(r.Context(), filter)
	if err != nil {
		zctx.From(r.Context()).Error("List orders failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := make([]orderResponse, len(list))
	for i := range list {
		resp[i] = toOrderResponse(&list[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// trackOrder is the public tracking endpoint: it exposes only the order
// number, current status, and history.
func (h *Handler) trackOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByNumber(r.Context(), r.PathValue("number"))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		zctx.From(r.Context()).Error("Track order failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	history := make([]statusChangeResponse, len(o.StatusHistory))
	for i, c := range o.StatusHistory {
		history[i] = statusChangeResponse{Status: string(c.Status), At: c.At, Note: c.Note}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"number":        o.Number,
		"status":        string(o.Status),
		"statusHistory": history,
	})
}

var validStatuses = map[order.Status]bool{
	order.StatusPending:    true,
	order.StatusConfirmed:  true,
	order.StatusProcessing: true,
	order.StatusShipped:    true,
	order.StatusDelivered:  true,
	order.StatusCancelled:  true,
	order.StatusRefunded:   true,
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !p.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin access required")
		return
	}

	var req struct {
		Status string `json:"status"`
		Note   string `json:"note,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status := order.Status(req.Status)
	if !validStatuses[status] {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	o, err := h.orders.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		zctx.From(r.Context()).Error("Get order failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	change := order.StatusChange{
		Status: status,
		At:     time.Now(),
		Note:   req.Note,
		Actor:  p.UserID,
	}
	if err := h.orders.AppendStatus(r.Context(), o.ID, change); err != nil {
		zctx.From(r.Context()).Error("Append status failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	zctx.From(r.Context()).Info("Order status updated",
		zap.String("number", o.Number),
		zap.String("status", req.Status),
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"number": o.Number,
		"status": req.Status,
	})
}
