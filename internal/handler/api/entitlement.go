package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/dukerupert/memberhub/internal/billing"
	"github.com/dukerupert/memberhub/internal/domain"
	"github.com/dukerupert/memberhub/internal/handler"
	"github.com/dukerupert/memberhub/internal/middleware"
)

// EntitlementHandler serves the caller's tenant entitlement.
type EntitlementHandler struct {
	entitlements billing.EntitlementReader
}

// NewEntitlementHandler creates a new entitlement handler
func NewEntitlementHandler(entitlements billing.EntitlementReader) *EntitlementHandler {
	return &EntitlementHandler{entitlements: entitlements}
}

// EntitlementResponse is the outward read contract other services gate on.
type EntitlementResponse struct {
	TenantID           string     `json:"tenantId"`
	Plan               string     `json:"plan"`
	SubscriptionStatus string     `json:"subscriptionStatus"`
	HasPaidAccess      bool       `json:"hasPaidAccess"`
	PeriodStart        *time.Time `json:"currentPeriodStart,omitempty"`
	PeriodEnd          *time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAt           *time.Time `json:"cancelAt,omitempty"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

func newEntitlementResponse(ent domain.TenantEntitlement) EntitlementResponse {
	resp := EntitlementResponse{
		TenantID:           ent.TenantID.String(),
		Plan:               string(ent.Plan),
		SubscriptionStatus: string(ent.Status),
		HasPaidAccess:      ent.HasAccess(domain.PlanStarter),
		CancelAt:           ent.CancelAt,
		UpdatedAt:          ent.UpdatedAt,
	}
	if !ent.PeriodStart.IsZero() {
		resp.PeriodStart = &ent.PeriodStart
	}
	if !ent.PeriodEnd.IsZero() {
		resp.PeriodEnd = &ent.PeriodEnd
	}
	return resp
}

// HandleGetEntitlement handles GET /api/billing/entitlement
func (h *EntitlementHandler) HandleGetEntitlement(w http.ResponseWriter, r *http.Request) {
	const op = "api.entitlement"

	identity := middleware.IdentityFromRequest(r)
	if identity == nil {
		handler.UnauthorizedResponse(w, r)
		return
	}

	ent, err := h.entitlements.Get(r.Context(), identity.TenantID)
	if errors.Is(err, billing.ErrTenantNotFound) {
		handler.ErrorResponse(w, r, domain.NotFound(op, "tenant", identity.TenantID.String()))
		return
	}
	if err != nil {
		handler.ErrorResponse(w, r, domain.Unavailable(err, op, "Entitlement is temporarily unavailable"))
		return
	}

	handler.WriteJSON(w, http.StatusOK, newEntitlementResponse(ent))
}
