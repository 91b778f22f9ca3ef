package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

const testOrigin = "http://localhost:3000"

func newCORSHandler(allowed string, called *bool) http.Handler {
	return NewCORSMiddleware(allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if called != nil {
			*called = true
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCORSMiddleware_AllowedOrigin_SetsHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/courses/c1/access", nil)
	req.Header.Set("Origin", testOrigin)
	w := httptest.NewRecorder()

	newCORSHandler(testOrigin, nil).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	tests := []struct {
		header string
		want   string
	}{
		{"Access-Control-Allow-Origin", testOrigin},
		{"Access-Control-Allow-Credentials", "true"},
		{"Access-Control-Expose-Headers", "X-Request-ID, Retry-After"},
		{"Vary", "Origin"},
	}
	for _, tt := range tests {
		if got := w.Header().Get(tt.header); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestCORSMiddleware_TrailingSlashInConfig(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", testOrigin)
	w := httptest.NewRecorder()

	newCORSHandler(testOrigin+"/", nil).ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, testOrigin)
	}
}

func TestCORSMiddleware_OtherOrigin_NoHeaders(t *testing.T) {
	called := false
	req := httptest.NewRequest(http.MethodPost, "/api/payments/create-checkout-session", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()

	newCORSHandler(testOrigin, &called).ServeHTTP(w, req)

	if !called {
		t.Error("next handler should still be called; the browser enforces CORS")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("Access-Control-Allow-Credentials = %q, want empty", got)
	}
}

func TestCORSMiddleware_NoOrigin_WebhookPassesThrough(t *testing.T) {
	called := false
	req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", nil)
	w := httptest.NewRecorder()

	newCORSHandler(testOrigin, &called).ServeHTTP(w, req)

	if !called {
		t.Error("next handler should be called for server-to-server requests")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
}

func TestCORSMiddleware_Preflight_Returns204(t *testing.T) {
	called := false
	req := httptest.NewRequest(http.MethodOptions, "/api/payments/create-checkout-session", nil)
	req.Header.Set("Origin", testOrigin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()

	newCORSHandler(testOrigin, &called).ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if called {
		t.Error("next handler should not be called for preflight")
	}

	tests := []struct {
		header string
		want   string
	}{
		{"Access-Control-Allow-Origin", testOrigin},
		{"Access-Control-Allow-Methods", "GET, POST, OPTIONS"},
		{"Access-Control-Allow-Headers", "Content-Type, Authorization"},
		{"Access-Control-Max-Age", "86400"},
	}
	for _, tt := range tests {
		if got := w.Header().Get(tt.header); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestCORSMiddleware_PreflightFromOtherOrigin_NoAllowHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/payments/create-checkout-session", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()

	newCORSHandler(testOrigin, nil).ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "" {
		t.Errorf("Access-Control-Allow-Methods = %q, want empty", got)
	}
}
