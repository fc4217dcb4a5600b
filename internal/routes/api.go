package routes

import (
	"github.com/dukerupert/memberhub/internal/domain"
	"github.com/dukerupert/memberhub/internal/middleware"
	"github.com/dukerupert/memberhub/internal/router"
)

// RegisterAPIRoutes registers the billing API. Every route requires a bearer
// token; session creation is further limited to tenant owners.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	api := r.Group(
		deps.Authenticate,
		middleware.RequireAuth,
		middleware.MaxBodySize(middleware.APIMaxBodySize),
	)

	api.Get("/api/billing/entitlement", deps.EntitlementHandler.HandleGetEntitlement)

	owner := api.Group(middleware.RequireOwner)
	owner.Post("/api/billing/checkout", deps.CheckoutHandler.HandleCreateCheckoutSession, deps.CheckoutRateLimit)
	owner.Post("/api/billing/portal", deps.CheckoutHandler.HandleCreatePortalSession,
		middleware.RequirePaidPlan(deps.Entitlements, domain.PlanStarter))
}
