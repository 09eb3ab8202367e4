package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestID(t *testing.T) {
	var seen string
	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromRequest(r)
	}))

	t.Run("propagates incoming header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("X-Request-Id", "req-incoming-123")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if seen != "req-incoming-123" {
			t.Errorf("context request id = %q, want req-incoming-123", seen)
		}
		if got := rec.Header().Get("X-Request-Id"); got != "req-incoming-123" {
			t.Errorf("response request id = %q, want req-incoming-123", got)
		}
	})

	t.Run("generates when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		if seen == "" {
			t.Error("expected generated request id in context")
		}
		if rec.Header().Get("X-Request-Id") != seen {
			t.Errorf("response header %q does not match context id %q", rec.Header().Get("X-Request-Id"), seen)
		}
	})
}

func TestRequestIDFromContextMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := RequestIDFromRequest(req); got != "" {
		t.Errorf("expected empty id outside middleware, got %q", got)
	}
}
