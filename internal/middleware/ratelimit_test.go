package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func newTestLimiter(t *testing.T, r float64, burst int) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(RateLimiterConfig{
		Rate:            rate.Limit(r),
		Burst:           burst,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(rl.Stop)
	return rl
}

func TestRateLimiter_AllowWithinBurst(t *testing.T) {
	rl := newTestLimiter(t, 1, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow("chat-1") {
			t.Fatalf("request %d: Allow() = false, want true", i)
		}
	}
	if rl.Allow("chat-1") {
		t.Error("Allow() after burst = true, want false")
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := newTestLimiter(t, 1, 1)

	if !rl.Allow("chat-A") {
		t.Fatal("first request for chat-A should be allowed")
	}
	if rl.Allow("chat-A") {
		t.Error("second request for chat-A should be limited")
	}
	if !rl.Allow("chat-B") {
		t.Error("chat-B should not be affected by chat-A")
	}
	if rl.LimiterCount() != 2 {
		t.Errorf("LimiterCount() = %d, want 2", rl.LimiterCount())
	}
}

func TestRateLimiter_Middleware_Returns429WithRetryAfter(t *testing.T) {
	rl := newTestLimiter(t, 0.5, 1)

	calls := 0
	handler := rl.Middleware(RemoteHost)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("first status = %d, want %d", w.Code, http.StatusOK)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/telegram/webhook", nil)
	req2.RemoteAddr = "10.0.0.1:6666"
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)

	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want %d", w2.Code, http.StatusTooManyRequests)
	}
	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}

	retryAfter, err := strconv.Atoi(w2.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After is not an integer: %q", w2.Header().Get("Retry-After"))
	}
	if retryAfter != 2 {
		t.Errorf("Retry-After = %d, want 2", retryAfter)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w2.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q, want %q", body.Code, "RATE_LIMIT_EXCEEDED")
	}
}

func TestRateLimiter_CleanupRemovesStaleEntries(t *testing.T) {
	rl := newTestLimiter(t, 1, 1)
	rl.Allow("stale")
	rl.Allow("fresh")

	rl.mu.Lock()
	rl.limiters["stale"].lastAccess = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	rl.cleanup()

	if rl.LimiterCount() != 1 {
		t.Fatalf("LimiterCount() = %d, want 1", rl.LimiterCount())
	}
	rl.mu.Lock()
	_, ok := rl.limiters["fresh"]
	rl.mu.Unlock()
	if !ok {
		t.Error("fresh entry should remain after cleanup")
	}
}

func TestPerMinute(t *testing.T) {
	cfg := PerMinute(30)
	if cfg.Burst != 30 {
		t.Errorf("Burst = %d, want 30", cfg.Burst)
	}
	if float64(cfg.Rate) != 0.5 {
		t.Errorf("Rate = %v, want 0.5", cfg.Rate)
	}

	if got := PerMinute(0); got.Burst != 1 {
		t.Errorf("PerMinute(0).Burst = %d, want 1", got.Burst)
	}
}

func TestRemoteHost(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := RemoteHost(req); got != "192.0.2.1" {
		t.Errorf("RemoteHost() = %q, want %q", got, "192.0.2.1")
	}

	req.RemoteAddr = "no-port"
	if got := RemoteHost(req); got != "no-port" {
		t.Errorf("RemoteHost() = %q, want %q", got, "no-port")
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 1})
	rl.Stop()
	rl.Stop()
}
