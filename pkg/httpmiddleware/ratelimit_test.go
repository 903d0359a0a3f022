package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitedHandler(t *testing.T, cfg RateLimitConfig) http.Handler {
	t.Helper()
	return RateLimit(cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func hit(h http.Handler, remoteAddr string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit(t *testing.T) {
	t.Run("budget admits exactly Max requests", func(t *testing.T) {
		h := limitedHandler(t, RateLimitConfig{Max: 3, Window: time.Minute})

		for i := range 3 {
			w := hit(h, "192.0.2.10:1000", nil)
			require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		}

		w := hit(h, "192.0.2.10:1000", nil)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("Retry-After"))
	})

	t.Run("429 body is the standard error shape", func(t *testing.T) {
		h := limitedHandler(t, RateLimitConfig{Max: 1, Window: time.Minute})
		hit(h, "192.0.2.11:1000", nil)

		w := hit(h, "192.0.2.11:1000", nil)
		require.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, float64(429), body["code"])
		assert.Equal(t, "rate limit exceeded", body["message"])
	})

	t.Run("headers on every response", func(t *testing.T) {
		h := limitedHandler(t, RateLimitConfig{Max: 10, Window: time.Minute})

		w := hit(h, "192.0.2.12:1000", nil)
		assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("clients are limited independently", func(t *testing.T) {
		h := limitedHandler(t, RateLimitConfig{Max: 1, Window: time.Minute})

		assert.Equal(t, http.StatusOK, hit(h, "192.0.2.13:1000", nil).Code)
		assert.Equal(t, http.StatusOK, hit(h, "192.0.2.14:1000", nil).Code)
		// The port must not influence the key.
		assert.Equal(t, http.StatusTooManyRequests, hit(h, "192.0.2.13:2000", nil).Code)
	})

	t.Run("proxied requests keyed by first forwarded hop", func(t *testing.T) {
		h := limitedHandler(t, RateLimitConfig{Max: 1, Window: time.Minute})
		fwd := map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.1"}

		assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1000", fwd).Code)
		// Different proxy socket, same client: still limited.
		assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.2:1000", fwd).Code)
	})

	t.Run("custom key function", func(t *testing.T) {
		h := limitedHandler(t, RateLimitConfig{
			Max:     1,
			Window:  time.Minute,
			KeyFunc: func(r *http.Request) string { return r.Header.Get("api_key") },
		})

		assert.Equal(t, http.StatusOK, hit(h, "192.0.2.15:1000", map[string]string{"api_key": "a"}).Code)
		assert.Equal(t, http.StatusTooManyRequests, hit(h, "192.0.2.15:1000", map[string]string{"api_key": "a"}).Code)
		assert.Equal(t, http.StatusOK, hit(h, "192.0.2.15:1000", map[string]string{"api_key": "b"}).Code)
	})
}

func TestLimiterSlidingWindow(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 10, Window: time.Minute})
	start := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	// Fill the first window.
	for range 10 {
		_, _, allowed := l.take("c", start)
		require.True(t, allowed)
	}
	_, _, allowed := l.take("c", start)
	require.False(t, allowed)

	// Half a window later the previous window still weighs in at 50%,
	// so only about half the budget is available.
	halfway := start.Add(90 * time.Second)
	granted := 0
	for range 10 {
		if _, _, ok := l.take("c", halfway); ok {
			granted++
		}
	}
	assert.InDelta(t, 5, granted, 1)

	// Two full windows later the history has aged out entirely.
	later := start.Add(3 * time.Minute)
	remaining, _, ok := l.take("c", later)
	require.True(t, ok)
	assert.Equal(t, 9, remaining)
}

func TestLimiterEvictStale(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 5, Window: time.Minute})
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	l.take("old", now)
	l.take("fresh", now.Add(2*time.Minute))

	l.evictStale(now.Add(2 * time.Minute))

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.buckets, "old")
	assert.Contains(t, l.buckets, "fresh")
}
