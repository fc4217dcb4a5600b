package routes

import (
	"net/http"

	"github.com/dukerupert/memberhub/internal/billing"
	"github.com/dukerupert/memberhub/internal/handler"
	"github.com/dukerupert/memberhub/internal/handler/api"
	"github.com/dukerupert/memberhub/internal/router"
)

// WebhookDeps contains dependencies for webhook routes
type WebhookDeps struct {
	StripeHandler http.HandlerFunc
}

// APIDeps contains dependencies for the authenticated billing API
type APIDeps struct {
	// Authenticate attaches the bearer identity; it runs before every API route.
	Authenticate router.Middleware

	// CheckoutRateLimit throttles session creation per tenant.
	CheckoutRateLimit router.Middleware

	CheckoutHandler    *api.CheckoutHandler
	EntitlementHandler *api.EntitlementHandler

	// Entitlements backs plan gating.
	Entitlements billing.EntitlementReader
}

// OpsDeps contains dependencies for health and metrics endpoints
type OpsDeps struct {
	HealthHandler  *handler.HealthHandler
	MetricsHandler http.Handler
}
