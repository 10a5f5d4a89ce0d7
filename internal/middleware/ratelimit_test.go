package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testRateConfig() RateLimitConfig {
	return RateLimitConfig{
		RatePerSecond:     5,
		Burst:             5,
		AnonRatePerSecond: 2,
		AnonBurst:         2,
		CleanupInterval:   time.Minute,
		MaxAge:            time.Minute,
	}
}

func TestRateLimiter_BasicLimit(t *testing.T) {
	rl := NewRateLimiter(testRateConfig())
	defer rl.Stop()

	// Should allow up to burst size
	for i := 0; i < 5; i++ {
		if !rl.Allow("test-key", 5, 5) {
			t.Errorf("Request %d should have been allowed", i)
		}
	}

	// Next request should be denied
	if rl.Allow("test-key", 5, 5) {
		t.Error("Request should have been rate limited")
	}
}

func TestRateLimiter_DifferentKeys(t *testing.T) {
	rl := NewRateLimiter(testRateConfig())
	defer rl.Stop()

	// Exhaust key1
	for i := 0; i < 5; i++ {
		rl.Allow("key1", 5, 5)
	}

	if rl.Allow("key1", 5, 5) {
		t.Error("key1 should be rate limited")
	}
	if !rl.Allow("key2", 5, 5) {
		t.Error("key2 should not be rate limited")
	}
}

func TestRateLimitMiddleware_IdentifiedCaller(t *testing.T) {
	rl := NewRateLimiter(testRateConfig())
	defer rl.Stop()

	handler := CallerIdentity(RateLimit(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	do := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/events", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		req.RemoteAddr = "10.1.2.3:55000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// Identified caller gets the full burst.
	for i := 0; i < 5; i++ {
		if code := do("caller-a"); code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, code)
		}
	}
	if code := do("caller-a"); code != http.StatusTooManyRequests {
		t.Fatalf("over-burst status = %d, want 429", code)
	}

	// A different caller has its own budget.
	if code := do("caller-b"); code != http.StatusOK {
		t.Fatalf("second caller status = %d", code)
	}
}

func TestRateLimitMiddleware_AnonymousByIP(t *testing.T) {
	rl := NewRateLimiter(testRateConfig())
	defer rl.Stop()

	handler := CallerIdentity(RateLimit(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/events", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// Anonymous burst is 2 per IP.
	for i := 0; i < 2; i++ {
		if code := do("192.0.2.1:40000"); code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, code)
		}
	}
	if code := do("192.0.2.1:40001"); code != http.StatusTooManyRequests {
		t.Fatalf("over-burst status = %d, want 429", code)
	}
	if code := do("192.0.2.2:40000"); code != http.StatusOK {
		t.Fatalf("other IP status = %d", code)
	}
}

func TestCallerIdentity(t *testing.T) {
	var got string
	handler := CallerIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetCaller(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/subscriptions", nil)
	req.Header.Set("Authorization", "Bearer caller-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got != "caller-42" {
		t.Errorf("caller = %q, want caller-42", got)
	}

	// WebSocket clients pass the token as a query parameter.
	req = httptest.NewRequest(http.MethodGet, "/ws?token=ws-caller", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got != "ws-caller" {
		t.Errorf("caller = %q, want ws-caller", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got != AnonymousCaller {
		t.Errorf("caller = %q, want anonymous", got)
	}
}
