// Package webhook receives payment processor webhook deliveries.
package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/memberhub/internal/billing"
	"github.com/dukerupert/memberhub/internal/domain"
	"github.com/dukerupert/memberhub/internal/handler"
	"github.com/dukerupert/memberhub/internal/middleware"
	"github.com/dukerupert/memberhub/internal/telemetry"
)

// SignatureHeader carries the processor's HMAC signature.
const SignatureHeader = "Stripe-Signature"

// EventVerifier authenticates a raw delivery.
type EventVerifier interface {
	Verify(rawBody []byte, signatureHeader string) (*billing.VerifiedEvent, error)
}

// EventReconciler applies a verified event.
type EventReconciler interface {
	Reconcile(ctx context.Context, evt *billing.VerifiedEvent) (billing.Result, error)
}

// StripeHandler handles Stripe webhook events
type StripeHandler struct {
	verifier   EventVerifier
	reconciler EventReconciler
	logger     *slog.Logger
}

// NewStripeHandler creates a new Stripe webhook handler
func NewStripeHandler(verifier EventVerifier, reconciler EventReconciler, logger *slog.Logger) *StripeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeHandler{
		verifier:   verifier,
		reconciler: reconciler,
		logger:     logger.With("handler", "stripe_webhook"),
	}
}

type ackResponse struct {
	Received bool            `json:"received"`
	Outcome  billing.Outcome `json:"outcome"`
}

// HandleWebhook verifies and reconciles one delivery.
//
// Every outcome of a verified event is acknowledged with 200, including
// duplicates, stale events and events for unknown tenants, so the processor
// stops redelivering them. Only verification failures (400) and transient
// store or processor failures (500) are rejected; the latter is redelivered.
//
// Stripe CLI testing:
//
//	stripe listen --forward-to localhost:8080/webhooks/stripe
//	stripe trigger customer.subscription.updated
func (h *StripeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			handler.ErrorResponse(w, r, domain.Errorf(domain.ETOOLARGE, "webhook.stripe", "Request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		handler.ErrorResponse(w, r, domain.Errorf(domain.EINVALID, "webhook.stripe", "Error reading request body"))
		return
	}

	evt, err := h.verifier.Verify(payload, r.Header.Get(SignatureHeader))
	if err != nil {
		h.rejectUnverified(w, r, err)
		return
	}

	res, err := h.reconciler.Reconcile(r.Context(), evt)
	if err != nil {
		// Already logged and reported by the reconciler.
		handler.WriteJSON(w, http.StatusInternalServerError, map[string]any{
			"error": map[string]string{
				"code":    domain.EINTERNAL,
				"message": "Event could not be processed, retry later",
			},
		})
		return
	}

	logger.Debug("webhook acknowledged",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"outcome", res.Outcome)
	handler.WriteJSON(w, http.StatusOK, ackResponse{Received: true, Outcome: res.Outcome})
}

// rejectUnverified answers 400 without touching any state. Failures are
// logged as security events: they are either misconfiguration or forgery.
func (h *StripeHandler) rejectUnverified(w http.ResponseWriter, r *http.Request, err error) {
	label := "invalid_signature"
	var ve *billing.VerificationError
	if errors.As(err, &ve) {
		label = ve.Label()
	}

	h.logger.Warn("webhook verification failed",
		"security_event", true,
		"reason", label,
		"remote_ip", middleware.GetClientIP(r),
		"request_id", middleware.GetRequestID(r.Context()),
		"error", err)
	if telemetry.Billing != nil {
		telemetry.Billing.VerificationFailures.WithLabelValues(label).Inc()
	}

	handler.WriteJSON(w, http.StatusBadRequest, map[string]any{
		"error": map[string]string{
			"code":    domain.EINVALID,
			"message": "Webhook verification failed",
		},
	})
}
