package server

import (
	"net/http"
	"strings"
)

const (
	defaultFrameAncestors     = "'none'"
	defaultFrameOptions       = "DENY"
	defaultReferrerPolicy     = "no-referrer"
	defaultPermissionsPolicy  = "camera=(), microphone=(), geolocation=()"
	defaultContentTypeOptions = "nosniff"
)

// SecurityConfig controls the hardening headers attached to every response.
// Zero-valued fields fall back to defaults suited to an API that also serves
// downloaded media files.
type SecurityConfig struct {
	ContentSecurityPolicy string
	FrameAncestors        string
	FrameOptions          string
	ReferrerPolicy        string
	PermissionsPolicy     string
	ContentTypeOptions    string
}

// headers resolves the config into the literal header set, applying defaults
// once so the middleware writes a fixed map per request.
func (cfg SecurityConfig) headers() map[string]string {
	ancestors := cfg.FrameAncestors
	if ancestors == "" {
		ancestors = defaultFrameAncestors
	}
	csp := cfg.ContentSecurityPolicy
	if csp == "" {
		csp = buildContentSecurityPolicy(ancestors)
	}
	set := map[string]string{
		"Content-Security-Policy": csp,
		"X-Frame-Options":         defaultFrameOptions,
		"X-Content-Type-Options":  defaultContentTypeOptions,
		"Referrer-Policy":         defaultReferrerPolicy,
		"Permissions-Policy":      defaultPermissionsPolicy,
	}
	if cfg.FrameOptions != "" {
		set["X-Frame-Options"] = cfg.FrameOptions
	}
	if cfg.ContentTypeOptions != "" {
		set["X-Content-Type-Options"] = cfg.ContentTypeOptions
	}
	if cfg.ReferrerPolicy != "" {
		set["Referrer-Policy"] = cfg.ReferrerPolicy
	}
	if cfg.PermissionsPolicy != "" {
		set["Permissions-Policy"] = cfg.PermissionsPolicy
	}
	return set
}

// buildContentSecurityPolicy allows same-origin media playback so completed
// artifacts under /files/ remain viewable in a browser.
func buildContentSecurityPolicy(frameAncestors string) string {
	directives := []string{
		"default-src 'self'",
		"connect-src 'self'",
		"img-src 'self' data:",
		"media-src 'self'",
		"script-src 'self'",
		"style-src 'self'",
		"object-src 'none'",
		"base-uri 'self'",
		"frame-ancestors " + frameAncestors,
		"form-action 'self'",
	}
	return strings.Join(directives, "; ")
}

func securityHeadersMiddleware(cfg SecurityConfig, next http.Handler) http.Handler {
	headers := cfg.headers()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for name, value := range headers {
			w.Header().Set(name, value)
		}
		next.ServeHTTP(w, r)
	})
}
