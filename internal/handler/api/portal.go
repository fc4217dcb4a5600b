package api

import (
	"net/http"

	"github.com/dukerupert/memberhub/internal/handler"
	"github.com/dukerupert/memberhub/internal/middleware"
)

// PortalRequest is the optional body of POST /api/billing/portal.
type PortalRequest struct {
	ReturnURL string `json:"returnUrl" validate:"omitempty,http_url,max=2048"`
}

// HandleCreatePortalSession handles POST /api/billing/portal
// An empty body returns to the configured default page.
func (h *CheckoutHandler) HandleCreatePortalSession(w http.ResponseWriter, r *http.Request) {
	const op = "api.portal"

	var req PortalRequest
	if r.ContentLength != 0 {
		if err := handler.DecodeJSON(r, op, &req); err != nil {
			handler.ValidationErrorResponse(w, r, err)
			return
		}
	}

	session, err := h.checkout.CreatePortalSession(r.Context(), middleware.IdentityFromRequest(r), req.ReturnURL)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.WriteJSON(w, http.StatusOK, RedirectResponse{RedirectURL: session.URL})
}
