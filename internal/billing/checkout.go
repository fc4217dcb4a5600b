package billing

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/dukerupert/memberhub/internal/domain"
	"github.com/dukerupert/memberhub/internal/telemetry"
)

// CheckoutRequest asks for a hosted checkout for a paid plan.
type CheckoutRequest struct {
	TenantID  uuid.UUID
	Plan      string
	Interval  string
	Requester *domain.Identity

	// IdempotencyKey is optional. Client retries with the same key get the
	// same processor session. Keys are scoped to the tenant before they reach
	// the processor.
	IdempotencyKey string
}

// CheckoutResult carries the single-use redirect to the processor.
type CheckoutResult struct {
	RedirectURL string
	SessionID   string
}

// CheckoutConfig holds the redirect targets for hosted pages.
type CheckoutConfig struct {
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
}

// CheckoutService starts checkout and portal sessions. It only reads the
// entitlement store: a plan is granted by the webhook, never by checkout.
type CheckoutService struct {
	entitlements EntitlementReader
	processor    Processor
	prices       PriceTable
	config       CheckoutConfig
	logger       *slog.Logger
}

// NewCheckoutService creates a CheckoutService.
func NewCheckoutService(entitlements EntitlementReader, processor Processor, prices PriceTable, config CheckoutConfig, logger *slog.Logger) *CheckoutService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutService{
		entitlements: entitlements,
		processor:    processor,
		prices:       prices,
		config:       config,
		logger:       logger.With("service", "checkout"),
	}
}

// Initiate validates the request and creates a processor checkout session
// tagged with tenant_id, plan, and interval metadata.
func (s *CheckoutService) Initiate(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	const op = "checkout.initiate"

	if req.Requester == nil {
		return nil, s.fail("unauthorized", domain.Unauthorized(op, "authentication required"))
	}
	if !req.Requester.IsOwnerOf(req.TenantID) {
		return nil, s.fail("forbidden", domain.Forbidden(op, "only the tenant owner can change the plan"))
	}

	plan, ok := domain.ParsePlan(req.Plan)
	if !ok || !plan.Paid() {
		return nil, s.fail("invalid", &domain.ValidationError{
			Op:     op,
			Fields: map[string]string{"plan": "must be one of starter, pro"},
			Err:    ErrInvalidPlan,
		})
	}
	interval, ok := domain.ParseInterval(req.Interval)
	if !ok {
		return nil, s.fail("invalid", &domain.ValidationError{
			Op:     op,
			Fields: map[string]string{"interval": "must be one of month, year"},
			Err:    ErrInvalidInterval,
		})
	}

	priceID, err := s.prices.Lookup(plan, interval)
	if err != nil {
		return nil, s.fail("config", domain.Internal(err, op, "plan price not configured"))
	}

	ent, err := s.entitlements.Get(ctx, req.TenantID)
	if errors.Is(err, ErrTenantNotFound) {
		return nil, s.fail("not_found", domain.NotFound(op, "tenant", req.TenantID.String()))
	}
	if err != nil {
		return nil, s.fail("store", domain.Unavailable(err, op, "billing is temporarily unavailable, please retry"))
	}
	if ent.Status.Live() {
		return nil, s.fail("conflict", domain.Conflict(op, "tenant already has a subscription; use the billing portal to change plans"))
	}

	session, err := s.processor.CreateCheckoutSession(ctx, CreateCheckoutSessionParams{
		PriceID:           priceID,
		CustomerID:        ent.ProcessorCustomerID,
		ClientReferenceID: req.TenantID.String(),
		Metadata: map[string]string{
			MetadataTenantID: req.TenantID.String(),
			MetadataPlan:     string(plan),
			MetadataInterval: string(interval),
		},
		SuccessURL:     withSessionID(s.config.SuccessURL),
		CancelURL:      s.config.CancelURL,
		IdempotencyKey: scopedIdempotencyKey(req.TenantID, req.IdempotencyKey),
	})
	if err != nil {
		if IsTransient(err) {
			return nil, s.fail("processor", domain.Unavailable(err, op, "payment processor unavailable, please retry"))
		}
		return nil, s.fail("processor", domain.Internal(err, op, "failed to create checkout session"))
	}

	if telemetry.Billing != nil {
		telemetry.Billing.CheckoutStarted.WithLabelValues(string(plan), string(interval)).Inc()
	}
	s.logger.Info("checkout initiated",
		"tenant_id", req.TenantID,
		"user_id", req.Requester.UserID,
		"plan", plan,
		"interval", interval,
		"session_id", session.ID)

	return &CheckoutResult{RedirectURL: session.URL, SessionID: session.ID}, nil
}

// CreatePortalSession returns a customer portal URL for the requester's tenant.
// An empty returnURL uses the configured default.
func (s *CheckoutService) CreatePortalSession(ctx context.Context, requester *domain.Identity, returnURL string) (*PortalSession, error) {
	const op = "checkout.portal"

	if requester == nil {
		return nil, domain.Unauthorized(op, "authentication required")
	}
	if !requester.IsOwnerOf(requester.TenantID) {
		return nil, domain.Forbidden(op, "only the tenant owner can manage billing")
	}

	ent, err := s.entitlements.Get(ctx, requester.TenantID)
	if errors.Is(err, ErrTenantNotFound) {
		return nil, domain.NotFound(op, "tenant", requester.TenantID.String())
	}
	if err != nil {
		return nil, domain.Unavailable(err, op, "billing is temporarily unavailable, please retry")
	}
	if ent.ProcessorCustomerID == "" {
		return nil, domain.WrapError(ErrNoCustomer, domain.ECONFLICT, op, "tenant has no billing account")
	}

	if returnURL == "" {
		returnURL = s.config.PortalReturnURL
	}

	session, err := s.processor.CreatePortalSession(ctx, CreatePortalSessionParams{
		CustomerID: ent.ProcessorCustomerID,
		ReturnURL:  returnURL,
	})
	if err != nil {
		if IsTransient(err) {
			return nil, domain.Unavailable(err, op, "payment processor unavailable, please retry")
		}
		return nil, domain.Internal(err, op, "failed to create billing portal session")
	}

	if telemetry.Billing != nil {
		telemetry.Billing.PortalSessions.Inc()
	}
	s.logger.Info("billing portal session created",
		"tenant_id", requester.TenantID)

	return session, nil
}

func (s *CheckoutService) fail(reason string, err error) error {
	if telemetry.Billing != nil {
		telemetry.Billing.CheckoutFailed.WithLabelValues(reason).Inc()
	}
	if reason == "processor" || reason == "store" || reason == "config" {
		s.logger.Error("checkout failed", "reason", reason, "error", err)
	}
	return err
}

// withSessionID lets the success page look up the completed session.
func withSessionID(successURL string) string {
	if successURL == "" || strings.Contains(successURL, "{CHECKOUT_SESSION_ID}") {
		return successURL
	}
	sep := "?"
	if strings.Contains(successURL, "?") {
		sep = "&"
	}
	return successURL + sep + "session_id={CHECKOUT_SESSION_ID}"
}

// scopedIdempotencyKey prefixes a client key with the tenant, so two tenants
// sending the same key never share a processor session.
func scopedIdempotencyKey(tenantID uuid.UUID, key string) string {
	if key == "" {
		return ""
	}
	return tenantID.String() + ":" + key
}
