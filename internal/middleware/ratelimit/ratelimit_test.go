package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *time.Time) {
	t.Helper()
	l := NewLimiter(cfg)
	t.Cleanup(l.Stop)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestBurstThenRefill(t *testing.T) {
	l, now := newTestLimiter(t, Config{RequestsPerMinute: 2})

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst of two should pass")
	}
	if l.Allow("a") {
		t.Fatal("third request should be limited")
	}
	if !l.Allow("b") {
		t.Fatal("other keys are independent")
	}
	if got := l.Stats().Rejected; got != 1 {
		t.Fatalf("rejected = %d", got)
	}
	if got := l.RetryAfter("a"); got != 30 {
		t.Fatalf("RetryAfter = %d, want 30", got)
	}

	*now = now.Add(31 * time.Second)
	if !l.Allow("a") {
		t.Fatal("one token should refill after 30s")
	}
	if l.Allow("a") {
		t.Fatal("only one token refilled")
	}
}

func TestSweepDropsIdleBuckets(t *testing.T) {
	l, now := newTestLimiter(t, Config{RequestsPerMinute: 5, IdleTTL: time.Minute})
	l.Allow("a")
	*now = now.Add(2 * time.Minute)
	l.Allow("b")
	l.sweep()
	if got := l.Stats().Clients; got != 1 {
		t.Fatalf("clients = %d, want 1", got)
	}
}

func TestMiddlewareWritesOnly(t *testing.T) {
	l, _ := newTestLimiter(t, Config{RequestsPerMinute: 1, WritesOnly: true})
	h := l.Middleware(func(*http.Request) string { return "ip" }, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("GET %d limited", i)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("first POST status %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second POST status %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("Retry-After = %q", rr.Header().Get("Retry-After"))
	}
}
