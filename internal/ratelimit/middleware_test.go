package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type stubAllower struct {
	allowed bool
	reset   time.Time
	keys    []string
}

func (s *stubAllower) Allow(_ context.Context, key string, _ time.Duration, limit int) (bool, int, time.Time, error) {
	s.keys = append(s.keys, key)
	if s.allowed {
		return true, limit - 1, s.reset, nil
	}
	return false, 0, s.reset, nil
}

func TestHandlerMiddlewareSetsHeaders(t *testing.T) {
	stub := &stubAllower{reset: time.Now().Add(30 * time.Second)}
	handler := Handler{
		Limiter: stub,
		Config:  Config{Key: func(*http.Request) string { return "static" }, Window: time.Minute, Max: 5},
	}
	called := false
	limited := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rr := httptest.NewRecorder()
	limited.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/test", nil))
	if rr.Code != http.StatusTooManyRequests || called {
		t.Fatalf("expected 429 without reaching the handler, got %d", rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Limit") != "5" {
		t.Fatalf("unexpected limit header: %q", rr.Header().Get("X-RateLimit-Limit"))
	}
	if ra, err := strconv.Atoi(rr.Header().Get("Retry-After")); err != nil || ra < 28 || ra > 30 {
		t.Fatalf("unexpected Retry-After %q", rr.Header().Get("Retry-After"))
	}

	stub.allowed = true
	rr = httptest.NewRecorder()
	limited.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/test", nil))
	if !called || rr.Header().Get("X-RateLimit-Remaining") != "4" {
		t.Fatalf("expected pass-through with remaining 4, got %q", rr.Header().Get("X-RateLimit-Remaining"))
	}
	if len(stub.keys) != 2 || stub.keys[0] != "static" {
		t.Fatalf("unexpected keys %v", stub.keys)
	}
}

func TestHandlerMiddlewareOnError(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	handler := Handler{
		Limiter: Limiter{Client: client, Prefix: "ratelimit:"},
		Config: Config{
			Key:    func(*http.Request) string { return "err" },
			Window: time.Second,
			Max:    1,
		},
	}

	called := false
	handler.OnError = func(error) { called = true }

	counted := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rr := httptest.NewRecorder()
	counted.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected handler to proceed on error, got %d", rr.Code)
	}
	if !called {
		t.Fatal("expected OnError callback to be invoked")
	}
	_ = client.Close()
}

func TestHandlerMiddlewareRejectsWithJSON(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	handler := Handler{
		Limiter: Limiter{Client: client, Prefix: "ratelimit:"},
		Config:  Config{Key: KeyByClientIP("pricing"), Window: time.Minute, Max: 1},
	}
	counted := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/pricing/calculate", nil)
		req.RemoteAddr = ip + ":5000"
		rr := httptest.NewRecorder()
		counted.ServeHTTP(rr, req)
		return rr
	}

	if rr := send("10.0.0.1"); rr.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", rr.Code)
	}
	rr := send("10.0.0.1")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"RATE_LIMITED"`) {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
	if rr := send("10.0.0.2"); rr.Code != http.StatusOK {
		t.Fatalf("expected other client allowed, got %d", rr.Code)
	}
	if !mr.Exists("ratelimit:pricing:10.0.0.1") {
		t.Fatal("expected per-client key")
	}
}
