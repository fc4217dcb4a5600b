// Package api serves the authenticated JSON billing endpoints.
package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/dukerupert/memberhub/internal/billing"
	"github.com/dukerupert/memberhub/internal/domain"
	"github.com/dukerupert/memberhub/internal/handler"
	"github.com/dukerupert/memberhub/internal/middleware"
)

// IdempotencyKeyHeader lets clients retry checkout without creating a second session.
const IdempotencyKeyHeader = "Idempotency-Key"

// CheckoutInitiator starts hosted checkout and portal sessions.
type CheckoutInitiator interface {
	Initiate(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutResult, error)
	CreatePortalSession(ctx context.Context, requester *domain.Identity, returnURL string) (*billing.PortalSession, error)
}

// CheckoutHandler handles checkout and billing portal session creation
type CheckoutHandler struct {
	checkout CheckoutInitiator
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(checkout CheckoutInitiator) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

// CheckoutRequest is the body of POST /api/billing/checkout.
// Plan and interval are checked against the catalog by the billing service.
type CheckoutRequest struct {
	Plan     string `json:"plan" validate:"required,max=32"`
	Interval string `json:"interval" validate:"required,max=16"`
	TenantID string `json:"tenantId" validate:"required,uuid"`
}

// RedirectResponse carries a single-use processor URL.
type RedirectResponse struct {
	RedirectURL string `json:"redirectUrl"`
}

// HandleCreateCheckoutSession handles POST /api/billing/checkout
// Returns JSON with the checkout URL to redirect the client
func (h *CheckoutHandler) HandleCreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	const op = "api.checkout"

	var req CheckoutRequest
	if err := handler.DecodeJSON(r, op, &req); err != nil {
		handler.ValidationErrorResponse(w, r, err)
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		handler.ValidationErrorResponse(w, r, domain.NewValidationError(op, "tenantId", "must be a UUID"))
		return
	}

	result, err := h.checkout.Initiate(r.Context(), billing.CheckoutRequest{
		TenantID:       tenantID,
		Plan:           req.Plan,
		Interval:       req.Interval,
		Requester:      middleware.IdentityFromRequest(r),
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	})
	if err != nil {
		handler.ValidationErrorResponse(w, r, err)
		return
	}

	handler.WriteJSON(w, http.StatusOK, RedirectResponse{RedirectURL: result.RedirectURL})
}
