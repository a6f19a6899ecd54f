package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSecurityHeadersDefaults(t *testing.T) {
	middleware := securityHeadersMiddleware(SecurityConfig{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	middleware.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if got := rec.Header().Get("X-Frame-Options"); got != defaultFrameOptions {
		t.Fatalf("unexpected frame options %q", got)
	}
	if got := rec.Header().Get("X-Content-Type-Options"); got != defaultContentTypeOptions {
		t.Fatalf("unexpected content type options %q", got)
	}
	if got := rec.Header().Get("Referrer-Policy"); got != defaultReferrerPolicy {
		t.Fatalf("unexpected referrer policy %q", got)
	}
	csp := rec.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "media-src 'self'") {
		t.Fatalf("expected media-src in CSP, got %q", csp)
	}
	if !strings.Contains(csp, "frame-ancestors 'none'") {
		t.Fatalf("expected frame-ancestors in CSP, got %q", csp)
	}
}

func TestSecurityHeadersOverrides(t *testing.T) {
	cfg := SecurityConfig{
		ContentSecurityPolicy: "default-src 'none'",
		FrameOptions:          "SAMEORIGIN",
	}
	middleware := securityHeadersMiddleware(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	middleware.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if got := rec.Header().Get("Content-Security-Policy"); got != "default-src 'none'" {
		t.Fatalf("unexpected CSP %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "SAMEORIGIN" {
		t.Fatalf("unexpected frame options %q", got)
	}
}
