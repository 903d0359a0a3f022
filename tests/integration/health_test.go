//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestProbeEndpoints(t *testing.T) {
	for _, path := range []string{"/livez", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			resp := doGet(t, path)
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("%s: content type %q", path, ct)
			}

			body := decodeJSON[healthResponse](t, resp)
			if body.Status != "ok" {
				t.Errorf("%s: status %q, want ok", path, body.Status)
			}
			if len(body.Checks) != 0 {
				t.Errorf("%s: unexpected failing checks: %v", path, body.Checks)
			}
		})
	}
}
