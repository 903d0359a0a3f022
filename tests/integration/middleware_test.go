//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"
)

func doGetWithHeaders(t *testing.T, method, path string, headers map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, baseURL+path, nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func TestRequestID(t *testing.T) {
	t.Run("generated when absent", func(t *testing.T) {
		resp := doGet(t, "/livez")
		defer resp.Body.Close()

		if resp.Header.Get("X-Request-ID") == "" {
			t.Fatal("no X-Request-ID on response")
		}
	})

	t.Run("client value echoed", func(t *testing.T) {
		const id = "order-debug-7f3a"
		resp := doGetWithHeaders(t, http.MethodGet, "/livez", map[string]string{"X-Request-ID": id})
		defer resp.Body.Close()

		if got := resp.Header.Get("X-Request-ID"); got != id {
			t.Errorf("X-Request-ID: got %q, want %q", got, id)
		}
	})
}

func TestCORS(t *testing.T) {
	t.Run("preflight", func(t *testing.T) {
		resp := doGetWithHeaders(t, http.MethodOptions, "/api/v1/products", map[string]string{
			"Origin":                        "http://storefront.example",
			"Access-Control-Request-Method": http.MethodPost,
		})
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", resp.StatusCode)
		}
		if resp.Header.Get("Access-Control-Allow-Origin") == "" {
			t.Error("missing Access-Control-Allow-Origin")
		}
		if resp.Header.Get("Access-Control-Allow-Methods") == "" {
			t.Error("missing Access-Control-Allow-Methods")
		}
	})

	t.Run("actual request carries allow-origin", func(t *testing.T) {
		resp := doGetWithHeaders(t, http.MethodGet, "/api/v1/products", map[string]string{
			"Origin": "http://storefront.example",
		})
		defer resp.Body.Close()

		if resp.Header.Get("Access-Control-Allow-Origin") == "" {
			t.Error("missing Access-Control-Allow-Origin")
		}
	})
}

func TestRateLimitHeaders(t *testing.T) {
	resp := doGet(t, "/api/v1/products")
	defer resp.Body.Close()

	for _, header := range []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"} {
		if resp.Header.Get(header) == "" {
			t.Errorf("missing %s", header)
		}
	}
}
