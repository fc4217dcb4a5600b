package middleware

import (
	"net/http"
	"strconv"
)

// SecurityHeadersConfig configures security headers for JSON responses.
type SecurityHeadersConfig struct {
	// HSTSMaxAge sets Strict-Transport-Security max-age in seconds.
	// Zero disables HSTS (local development over plain HTTP).
	HSTSMaxAge int
}

// DefaultSecurityHeadersConfig returns the production configuration.
func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{HSTSMaxAge: 31536000} // 1 year
}

// SecurityHeaders adds headers suited to an API that never serves HTML.
// Billing responses carry redirect URLs and entitlement state, so they are
// never cached.
func SecurityHeaders(config SecurityHeadersConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Cache-Control", "no-store")

			if config.HSTSMaxAge > 0 {
				h.Set("Strict-Transport-Security", "max-age="+strconv.Itoa(config.HSTSMaxAge)+"; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}
