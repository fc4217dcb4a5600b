package middleware

import (
	"errors"
	"net/http"

	"github.com/dukerupert/memberhub/internal/billing"
	"github.com/dukerupert/memberhub/internal/domain"
)

// RequirePaidPlan gates a route on the caller's tenant entitlement. Past-due
// tenants keep access. The loaded entitlement is attached to the context.
// Must run after Authenticate.
func RequirePaidPlan(entitlements billing.EntitlementReader, required domain.Plan) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := domain.IdentityFromContext(r.Context())
			if identity == nil {
				respondUnauthorized(w, r, "Authentication required")
				return
			}

			ent, err := entitlements.Get(r.Context(), identity.TenantID)
			if errors.Is(err, billing.ErrTenantNotFound) {
				respondForbidden(w, r, "Unknown tenant")
				return
			}
			if err != nil {
				respondInternalError(w, r, err)
				return
			}

			if !ent.HasAccess(required) {
				respondPaymentRequired(w, r, required)
				return
			}

			ctx := domain.NewContextWithEntitlement(r.Context(), &ent)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
