//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestListProducts(t *testing.T) {
	resp := doGet(t, "/api/v1/products")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	products := decodeJSON[[]productResponse](t, resp)
	if len(products) != seededProducts {
		t.Fatalf("expected %d products, got %d", seededProducts, len(products))
	}
}

func TestListProducts_Fields(t *testing.T) {
	resp := doGet(t, "/api/v1/products")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	products := decodeJSON[[]productResponse](t, resp)

	var candle *productResponse
	for i := range products {
		if products[i].SKU == "CANDLE-LAV" {
			candle = &products[i]
			break
		}
	}

	if candle == nil {
		t.Fatal("product with SKU CANDLE-LAV not found")
	}
	if candle.Name != "Lavender Soy Candle" {
		t.Errorf("name: got %q, want %q", candle.Name, "Lavender Soy Candle")
	}
	if candle.Price != 18.50 {
		t.Errorf("price: got %v, want 18.50", candle.Price)
	}
	if candle.Slug != "lavender-soy-candle" {
		t.Errorf("slug: got %q, want %q", candle.Slug, "lavender-soy-candle")
	}
	if candle.Category != "home" {
		t.Errorf("category: got %q, want %q", candle.Category, "home")
	}
	if candle.Stock <= 0 {
		t.Errorf("stock: got %d, want > 0", candle.Stock)
	}
}

func TestListProducts_DiscountPrice(t *testing.T) {
	resp := doGet(t, "/api/v1/products")
	defer resp.Body.Close()

	products := decodeJSON[[]productResponse](t, resp)

	for i := range products {
		if products[i].SKU == "MUG-CERAM" {
			if products[i].DiscountPrice != 19.90 {
				t.Errorf("discountPrice: got %v, want 19.90", products[i].DiscountPrice)
			}
			return
		}
	}
	t.Fatal("product with SKU MUG-CERAM not found")
}

func TestGetProduct(t *testing.T) {
	list := doGet(t, "/api/v1/products")
	products := decodeJSON[[]productResponse](t, list)
	list.Body.Close()
	if len(products) == 0 {
		t.Fatal("no products seeded")
	}

	resp := doGet(t, "/api/v1/products/"+products[0].ID)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	product := decodeJSON[productResponse](t, resp)
	if product.ID != products[0].ID {
		t.Errorf("id: got %q, want %q", product.ID, products[0].ID)
	}
	if product.Name == "" {
		t.Error("product name is empty")
	}
}

func TestGetProduct_NotFound(t *testing.T) {
	resp := doGet(t, "/api/v1/products/no-such-product")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	errResp := decodeJSON[errorResponse](t, resp)
	if errResp.Code != 404 {
		t.Errorf("error code: got %d, want 404", errResp.Code)
	}
}

func TestValidateProductForCheckout(t *testing.T) {
	resp := doGet(t, "/api/v1/payment/products/CANDLE-LAV")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	got := decodeJSON[map[string]any](t, resp)
	if got["id"] != "CANDLE-LAV" {
		t.Errorf("id: got %v, want CANDLE-LAV", got["id"])
	}
	if price, ok := got["price"].(float64); !ok || price != 18.50 {
		t.Errorf("price: got %v, want 18.50", got["price"])
	}
}
