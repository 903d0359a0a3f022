package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/petiteboutique/shop-api/internal/domain/product"
)

// productResponse is the public JSON shape of a catalog product.
type productResponse struct {
	ID            string  `json:"id"`
	SKU           string  `json:"sku"`
	Slug          string  `json:"slug"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	Price         float64 `json:"price"`
	DiscountPrice float64 `json:"discountPrice,omitempty"`
	Stock         int     `json:"stock"`
	Category      string  `json:"category,omitempty"`
}

func toProductResponse(p product.Product) productResponse {
	resp := productResponse{
		ID:          p.ID,
		SKU:         p.SKU,
		Slug:        p.Slug,
		Name:        p.Name,
		Description: p.Description,
		Price:       p.Price.InexactFloat64(),
		Stock:       p.Stock,
		Category:    p.Category,
	}
	if p.DiscountPrice.IsPositive() {
		resp.DiscountPrice = p.DiscountPrice.InexactFloat64()
	}
	return resp
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		zctx.From(r.Context()).Error("List products failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := make([]productResponse, len(products))
	for i, p := range products {
		resp[i] = toProductResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			writeError(w, http.StatusNotFound, "product not found")
			return
		}
		zctx.From(r.Context()).Error("Get product failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(*p))
}

// validateProduct serves the payment provider's pre-checkout price and
// stock validation. The provider looks products up by id or SKU and
// expects the effective price it should charge.
func (h *Handler) validateProduct(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("id")

	p, err := h.products.GetByID(r.Context(), ref)
	if errors.Is(err, product.ErrNotFound) {
		var bySKU []product.Product
		bySKU, err = h.products.GetBySKUs(r.Context(), []string{ref})
		if err == nil {
			if len(bySKU) == 0 {
				writeError(w, http.StatusNotFound, "product not found")
				return
			}
			p = &bySKU[0]
		}
	}
	if err != nil {
		zctx.From(r.Context()).Error("Validate product failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if !p.Active {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	if p.Stock <= 0 {
		writeError(w, http.StatusBadRequest, "product out of stock")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":          p.SKU,
		"name":        p.Name,
		"price":       p.EffectivePrice().InexactFloat64(),
		"url":         "/products/" + p.Slug,
		"stackable":   true,
		"maxQuantity": p.Stock,
	})
}
