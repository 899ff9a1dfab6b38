package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/adventureadjacent/mapcase-weather/internal/health"
)

func TestCorrelationIDMiddlewareGenerates(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value("correlation_id").(string)
	})
	handler := CorrelationIDMiddleware(zap.NewNop())(next)

	req := httptest.NewRequest(http.MethodGet, "/weather/forecast", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen == "" {
		t.Fatal("expected generated correlation id in context")
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != seen {
		t.Fatalf("response header %q does not match context value %q", got, seen)
	}
}

func TestCorrelationIDMiddlewarePassthrough(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := CorrelationIDMiddleware(zap.NewNop())(next)

	req := httptest.NewRequest(http.MethodGet, "/weather/forecast", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != "abc-123" {
		t.Fatalf("expected passthrough correlation id, got %q", got)
	}
}

func TestRateLimitMiddlewareDenies(t *testing.T) {
	health.Reset()
	defer health.Reset()

	limiter := rate.NewLimiter(rate.Limit(1), 1)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimitMiddleware(limiter)(next)

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/weather/forecast", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/weather/forecast", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request should be denied, got %d", second.Code)
	}
	if health.DenialCount(time.Minute) != 1 {
		t.Fatalf("expected one recorded denial, got %d", health.DenialCount(time.Minute))
	}
}

func TestRateLimitMiddlewareDisabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimitMiddleware(nil)(next)

	for i := 0; i < 10; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/weather/forecast", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d should pass with limiter disabled, got %d", i, rec.Code)
		}
	}
}

func TestTimeoutMiddlewareSetsDeadline(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); !ok {
			t.Error("expected deadline on request context")
		}
	})
	handler := TimeoutMiddleware(time.Second)(next)
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/weather/forecast", nil))
}

func TestGetRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/weather/forecast", "/weather/forecast"},
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/other", "/other"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if got := getRoute(req); got != tt.want {
			t.Errorf("getRoute(%s) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestStatusCodeString(t *testing.T) {
	if got := statusCodeString(200); got != "2xx" {
		t.Errorf("expected 2xx, got %s", got)
	}
	if got := statusCodeString(404); got != "4xx" {
		t.Errorf("expected 4xx, got %s", got)
	}
	if got := statusCodeString(503); got != "5xx" {
		t.Errorf("expected 5xx, got %s", got)
	}
}
