package middleware

import (
	"net/http"
)

// Common size limits
const (
	KB = 1024
	MB = 1024 * KB

	// WebhookMaxBodySize bounds processor webhook payloads.
	WebhookMaxBodySize = 1 * MB

	// APIMaxBodySize bounds JSON API requests.
	APIMaxBodySize = 16 * KB
)

// MaxBodySize limits the size of request bodies.
// Requests that declare a larger Content-Length get 413 immediately; bodies
// that turn out larger fail on read with *http.MaxBytesError.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.ContentLength > maxBytes {
				respondTooLarge(w, r, maxBytes)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
