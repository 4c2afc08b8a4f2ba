package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/potluck/internal/model"
)

func testRateLimiter(t *testing.T, generalBurst, mutationBurst int) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    generalBurst,
		MutationRate:    0.5,
		MutationBurst:   mutationBurst,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(rl.Stop)
	return rl
}

func newRequestFrom(method, remote string) *http.Request {
	req := httptest.NewRequest(method, "/api/signups", nil)
	req.RemoteAddr = remote
	return req
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// --- GeneralMiddleware のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := testRateLimiter(t, 5, 1)
	handler := rl.GeneralMiddleware()(okHandler)

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newRequestFrom(http.MethodGet, "198.51.100.1:1000"))
		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}
}

func TestRateLimitMiddleware_Returns429WhenLimitExceeded(t *testing.T) {
	rl := testRateLimiter(t, 2, 1)
	handler := rl.GeneralMiddleware()(okHandler)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newRequestFrom(http.MethodGet, "198.51.100.2:1000"))
		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newRequestFrom(http.MethodGet, "198.51.100.2:1000"))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}

	retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, want positive integer", resp.Header.Get("Retry-After"))
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != model.ErrCodeRateLimited {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeRateLimited)
	}
	if body.Success {
		t.Error("success should be false")
	}
}

func TestRateLimitMiddleware_SeparateLimitsPerClient(t *testing.T) {
	rl := testRateLimiter(t, 1, 1)
	handler := rl.GeneralMiddleware()(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newRequestFrom(http.MethodGet, "198.51.100.3:1000"))
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("first client: status = %d", w.Result().StatusCode)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, newRequestFrom(http.MethodGet, "198.51.100.4:1000"))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("second client should not be limited: status = %d", w.Result().StatusCode)
	}

	if got := rl.GeneralLimiterCount(); got != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", got)
	}
}

// --- MutationMiddleware のテスト ---

func TestMutationMiddleware_IgnoresReads(t *testing.T) {
	rl := testRateLimiter(t, 10, 1)
	handler := rl.MutationMiddleware()(okHandler)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, newRequestFrom(http.MethodGet, "198.51.100.5:1000"))
		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("GET %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}
	if got := rl.MutationLimiterCount(); got != 0 {
		t.Errorf("MutationLimiterCount = %d, want 0", got)
	}
}

func TestMutationMiddleware_LimitsWrites(t *testing.T) {
	rl := testRateLimiter(t, 10, 1)
	handler := rl.MutationMiddleware()(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newRequestFrom(http.MethodPost, "198.51.100.6:1000"))
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("first POST: status = %d", w.Result().StatusCode)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, newRequestFrom(http.MethodDelete, "198.51.100.6:1000"))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("second write: status = %d, want %d", w.Result().StatusCode, http.StatusTooManyRequests)
	}
	if got := w.Result().Header.Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want %q", got, "2")
	}
}

func TestRateLimiter_CleanupEvictsIdleEntries(t *testing.T) {
	rl := testRateLimiter(t, 10, 10)
	handler := rl.GeneralMiddleware()(okHandler)
	handler.ServeHTTP(httptest.NewRecorder(), newRequestFrom(http.MethodGet, "198.51.100.7:1000"))

	rl.cleanup(time.Now())
	if got := rl.GeneralLimiterCount(); got != 1 {
		t.Fatalf("fresh entry evicted: count = %d", got)
	}

	rl.cleanup(time.Now().Add(3 * time.Minute))
	if got := rl.GeneralLimiterCount(); got != 0 {
		t.Errorf("GeneralLimiterCount = %d, want 0", got)
	}
}

func TestRateLimiterConfigPerMinute(t *testing.T) {
	cfg := RateLimiterConfigPerMinute(120, 30)
	if cfg.GeneralRate != 2 {
		t.Errorf("GeneralRate = %v, want 2", cfg.GeneralRate)
	}
	if cfg.MutationRate != 0.5 {
		t.Errorf("MutationRate = %v, want 0.5", cfg.MutationRate)
	}
	if cfg.GeneralBurst != 120 || cfg.MutationBurst != 30 {
		t.Errorf("bursts = %d/%d, want 120/30", cfg.GeneralBurst, cfg.MutationBurst)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		fwd    string
		want   string
	}{
		{"remote addr", "203.0.113.9:4444", "", "203.0.113.9"},
		{"forwarded header ignored", "10.0.0.1:80", "203.0.113.1, 10.0.0.2", "10.0.0.1"},
		{"no port", "203.0.113.5", "", "203.0.113.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.fwd != "" {
				req.Header.Set("X-Forwarded-For", tt.fwd)
			}
			if got := ClientIP(req); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

// X-Forwarded-Forを毎回変えても同じ接続元は制限される。
func TestMutationMiddleware_IgnoresSpoofedForwardedFor(t *testing.T) {
	rl := testRateLimiter(t, 1000, 1)
	handler := rl.MutationMiddleware()(okHandler)

	limited := 0
	for i := 0; i < 100; i++ {
		req := newRequestFrom(http.MethodPost, "198.51.100.50:1000")
		req.Header.Set("X-Forwarded-For", "203.0.113."+strconv.Itoa(i))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Result().StatusCode == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 99 {
		t.Errorf("limited = %d, want 99", limited)
	}
	if n := rl.MutationLimiterCount(); n != 1 {
		t.Errorf("mutation limiters = %d, want 1", n)
	}
}
