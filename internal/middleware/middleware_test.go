package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK"))
}

func TestRateLimiter_AllowsBurstThenBlocks(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("Expected request %d to be allowed", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Error("Expected fourth request to be blocked")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("Expected a different client to be allowed")
	}
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()

	now := time.Now()
	rl.now = func() time.Time { return now }

	rl.Allow("c")
	rl.Allow("c")
	if rl.Allow("c") {
		t.Fatal("Expected bucket to be empty")
	}

	now = now.Add(45 * time.Second)
	if !rl.Allow("c") {
		t.Error("Expected a token to have refilled")
	}
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()

	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.Allow("idle")

	now = now.Add(2 * time.Hour)
	rl.evictIdle()

	if len(rl.clients) != 0 {
		t.Errorf("Expected idle client to be evicted, got %d clients", len(rl.clients))
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()

	r := chi.NewRouter()
	r.Use(RateLimitMiddleware(rl))
	r.Get("/", okHandler)

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-Forwarded-For", "9.9.9.9, 10.0.0.1")
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)

		if rr.Code != want {
			t.Errorf("Request %d: expected status %d, got %d", i+1, want, rr.Code)
		}
	}
}

func TestGetClientKey(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if key := GetClientKey(req); key != "192.0.2.1:1234" {
		t.Errorf("Expected remote addr, got %s", key)
	}

	req.Header.Set("X-Real-IP", "198.51.100.7")
	if key := GetClientKey(req); key != "198.51.100.7" {
		t.Errorf("Expected X-Real-IP, got %s", key)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	if key := GetClientKey(req); key != "203.0.113.5" {
		t.Errorf("Expected first forwarded hop, got %s", key)
	}
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(RequestLogger(zap.New(core)))
	r.Get("/ok", okHandler)
	r.Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	for _, path := range []string{"/ok", "/boom"} {
		req := httptest.NewRequest("GET", path, nil)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 log entries, got %d", len(entries))
	}

	first := entries[0].ContextMap()
	if first["path"] != "/ok" || first["status"] != int64(200) {
		t.Errorf("Unexpected fields %v", first)
	}
	if first["request_id"] == "" {
		t.Error("Expected request id to be logged")
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Errorf("Expected warn level for 5xx, got %s", entries[1].Level)
	}
}

func TestTracingMiddleware_PassesStatus(t *testing.T) {
	r := chi.NewRouter()
	r.Use(TracingMiddleware("test"))
	r.Get("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	req := httptest.NewRequest("GET", "/missing", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}
