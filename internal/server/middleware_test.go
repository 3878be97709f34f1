package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func okHandler(status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
	}{
		{"generates", ""},
		{"propagates", "trace-42"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestID(r.Context())
			}))

			req := httptest.NewRequest("GET", "/", http.NoBody)
			if tc.incoming != "" {
				req.Header.Set("X-Request-ID", tc.incoming)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			got := w.Header().Get("X-Request-ID")
			if got == "" || got != seen {
				t.Fatalf("header %q, context %q", got, seen)
			}
			if tc.incoming != "" && got != tc.incoming {
				t.Errorf("request ID = %q, want %q", got, tc.incoming)
			}
		})
	}
}

func TestLoggingMiddleware_SkipsOperationalPaths(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := LoggingMiddleware(zap.New(core), []string{"/healthz"})(okHandler(http.StatusCreated))

	for _, path := range []string{"/healthz", "/api/v1/fleet/machines"} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", path, http.NoBody))
		if w.Code != http.StatusCreated {
			t.Errorf("%s status = %d", path, w.Code)
		}
	}

	entries := logs.FilterMessage("http request").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d requests, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["path"]; got != "/api/v1/fleet/machines" {
		t.Errorf("logged path = %v", got)
	}
}

func TestLoggingMiddleware_LabelsByRoutePattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /api/v1/fleet/machines/{id}", okHandler(http.StatusOK))
	handler := LoggingMiddleware(zap.NewNop(), nil)(mux)

	const route = "GET /api/v1/fleet/machines/{id}"
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", route, "200"))
	for _, id := range []string{"M01", "M02"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/fleet/machines/"+id, http.NoBody))
	}
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", route, "200")); got != before+2 {
		t.Errorf("requests for %q = %v, want %v", route, got, before+2)
	}
}

func TestHeaderMiddleware(t *testing.T) {
	w := httptest.NewRecorder()
	Chain(okHandler(http.StatusOK), SecurityHeadersMiddleware, VersionHeaderMiddleware).
		ServeHTTP(w, httptest.NewRequest("GET", "/", http.NoBody))

	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "no-referrer",
		"X-Upkeep-Version":       "dev",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/fleet/summary", http.NoBody))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), ProblemTypeInternal) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := RateLimitMiddleware(1, 1, []string{"/healthz"})(okHandler(http.StatusOK))

	do := func(path, remote string) int {
		req := httptest.NewRequest("GET", path, http.NoBody)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	if got := do("/api/v1/fleet/summary", "10.0.0.1:1000"); got != http.StatusOK {
		t.Fatalf("first request = %d", got)
	}
	if got := do("/api/v1/fleet/summary", "10.0.0.1:1001"); got != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", got)
	}
	if got := do("/api/v1/fleet/summary", "10.0.0.2:1000"); got != http.StatusOK {
		t.Errorf("other client = %d, want 200", got)
	}
	for i := 0; i < 5; i++ {
		if got := do("/healthz", "10.0.0.1:1000"); got != http.StatusOK {
			t.Fatalf("skipped path request %d = %d", i, got)
		}
	}
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	handler := RateLimitMiddleware(0, 0, nil)(okHandler(http.StatusOK))
	for i := range 20 {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/fleet/machines", http.NoBody))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d = %d with limiting disabled", i, w.Code)
		}
	}
}

func TestClientLimiter_Take(t *testing.T) {
	l := newClientLimiter(2, 1)
	now := time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)

	if ok, _ := l.take("a", now); !ok {
		t.Fatal("first take refused")
	}
	ok, retry := l.take("a", now)
	if ok {
		t.Fatal("second take inside the same instant allowed")
	}
	if retry <= 0 || retry > 500*time.Millisecond {
		t.Errorf("retry = %v, want (0, 500ms]", retry)
	}
	// A refused take must not borrow from the future.
	if ok, _ := l.take("a", now.Add(500*time.Millisecond)); !ok {
		t.Error("take after refill refused")
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	Chain(okHandler(http.StatusOK), mark("outer"), mark("inner")).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", http.NoBody))

	if strings.Join(order, ",") != "outer,inner" {
		t.Errorf("order = %v", order)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote, xff, want string
	}{
		{"192.168.1.100:12345", "", "192.168.1.100"},
		{"127.0.0.1:1", "203.0.113.50, 70.41.3.18", "203.0.113.50"},
		{"not-an-addr", "", "not-an-addr"},
	}
	for _, tc := range tests {
		req := httptest.NewRequest("GET", "/", http.NoBody)
		req.RemoteAddr = tc.remote
		if tc.xff != "" {
			req.Header.Set("X-Forwarded-For", tc.xff)
		}
		if got := clientIP(req); got != tc.want {
			t.Errorf("clientIP(%q, %q) = %q, want %q", tc.remote, tc.xff, got, tc.want)
		}
	}
}

func TestStatusWriter_FirstStatusWins(t *testing.T) {
	sw := &statusWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	sw.WriteHeader(http.StatusNotFound)
	sw.WriteHeader(http.StatusInternalServerError)
	if sw.status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", sw.status)
	}
}
