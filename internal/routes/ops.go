package routes

import (
	"github.com/dukerupert/memberhub/internal/router"
)

// RegisterOpsRoutes registers health and metrics endpoints.
// Metrics carry no auth and should be firewalled in production.
func RegisterOpsRoutes(r *router.Router, deps OpsDeps) {
	r.Get("/health", deps.HealthHandler.HandleHealth)
	r.Get("/metrics", deps.MetricsHandler.ServeHTTP)
}
