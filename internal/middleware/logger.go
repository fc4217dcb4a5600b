package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dukerupert/memberhub/internal/domain"
)

const (
	// LoggerContextKey is the context key for storing the request-scoped logger
	LoggerContextKey contextKey = "logger"
)

// WithRequestLogger injects a request-scoped logger into the context.
// The logger carries request_id, method, and path; Authenticate adds the
// caller's tenant and user once the token is verified.
func WithRequestLogger(baseLogger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestLogger := baseLogger.With(
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			if requestID := GetRequestID(r.Context()); requestID != "" {
				requestLogger = requestLogger.With(slog.String("request_id", requestID))
			}

			ctx := context.WithValue(r.Context(), LoggerContextKey, requestLogger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// withIdentityLogger extends the request logger with the authenticated caller.
func withIdentityLogger(ctx context.Context, identity *domain.Identity) context.Context {
	logger := GetLogger(ctx).With(
		slog.String("tenant_id", identity.TenantID.String()),
		slog.String("user_id", identity.UserID.String()),
	)
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// GetLogger retrieves the request-scoped logger from the context.
// If no logger is found, returns the provided fallback logger.
// If no fallback is provided, returns slog.Default().
func GetLogger(ctx context.Context, fallback ...*slog.Logger) *slog.Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*slog.Logger); ok {
		return logger
	}
	if len(fallback) > 0 && fallback[0] != nil {
		return fallback[0]
	}
	return slog.Default()
}
