package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"
	portalsession "github.com/stripe/stripe-go/v83/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v83/checkout/session"
	stripesubscription "github.com/stripe/stripe-go/v83/subscription"

	"github.com/dukerupert/memberhub/internal/telemetry"
)

// StripeProcessor implements Processor using the Stripe API.
type StripeProcessor struct {
	logger *slog.Logger
}

// NewStripeProcessor configures the process-wide Stripe client and returns a
// processor that uses it. Network retries and the HTTP timeout come from cfg;
// a call that still fails after them is reported as transient.
func NewStripeProcessor(cfg StripeConfig, logger *slog.Logger) *StripeProcessor {
	if logger == nil {
		logger = slog.Default()
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := int64(cfg.MaxRetries)

	stripe.Key = cfg.APIKey
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: &telemetry.HTTPTransport{Transport: http.DefaultTransport},
		},
		MaxNetworkRetries: stripe.Int64(retries),
	}))

	return &StripeProcessor{logger: logger.With("service", "stripe")}
}

// CreateCheckoutSession creates a subscription-mode Checkout Session.
func (p *StripeProcessor) CreateCheckoutSession(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error) {
	sp := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		Metadata:   params.Metadata,
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: params.Metadata,
		},
	}
	if params.CustomerID != "" {
		sp.Customer = stripe.String(params.CustomerID)
	}
	if params.ClientReferenceID != "" {
		sp.ClientReferenceID = stripe.String(params.ClientReferenceID)
	}
	if params.IdempotencyKey != "" {
		sp.SetIdempotencyKey(params.IdempotencyKey)
	}
	sp.Context = ctx

	start := time.Now()
	session, err := checkoutsession.New(sp)
	observeStripe("create_checkout_session", start)
	if err != nil {
		return nil, p.wrap("create checkout session", err)
	}

	p.logger.Info("checkout session created",
		"session_id", session.ID,
		"customer_reused", params.CustomerID != "")

	return &CheckoutSession{
		ID:        session.ID,
		URL:       session.URL,
		ExpiresAt: time.Unix(session.ExpiresAt, 0).UTC(),
	}, nil
}

// GetSubscription retrieves a subscription by ID.
func (p *StripeProcessor) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	start := time.Now()
	sub, err := stripesubscription.Get(subscriptionID, params)
	observeStripe("get_subscription", start)
	if err != nil {
		return nil, p.wrap("get subscription", err)
	}

	return subscriptionFromStripe(sub), nil
}

// CreatePortalSession creates a Stripe Customer Portal session.
func (p *StripeProcessor) CreatePortalSession(ctx context.Context, params CreatePortalSessionParams) (*PortalSession, error) {
	sp := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(params.CustomerID),
		ReturnURL: stripe.String(params.ReturnURL),
	}
	sp.Context = ctx

	start := time.Now()
	session, err := portalsession.New(sp)
	observeStripe("create_portal_session", start)
	if err != nil {
		return nil, p.wrap("create portal session", err)
	}

	return &PortalSession{ID: session.ID, URL: session.URL}, nil
}

// wrap converts a Stripe SDK error into ErrSubscriptionNotFound, a
// TransientError, or a permanent *StripeError.
func (p *StripeProcessor) wrap(op string, err error) error {
	se := classifyStripeError(err)

	if se.Code == string(stripe.ErrorCodeResourceMissing) {
		return fmt.Errorf("%s: %w", op, ErrSubscriptionNotFound)
	}
	if se.IsTemporary() {
		p.logger.Warn("stripe call failed transiently",
			"operation", op,
			"code", se.Code,
			"http_status", se.HTTPStatus,
			"request_id", se.RequestID,
			"error", err)
		return &TransientError{Op: op, Err: se}
	}

	p.logger.Error("stripe call failed",
		"operation", op,
		"code", se.Code,
		"http_status", se.HTTPStatus,
		"request_id", se.RequestID,
		"error", err)
	return fmt.Errorf("%s: %w", op, se)
}

func classifyStripeError(err error) *StripeError {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &StripeError{
			Message:       stripeErr.Msg,
			Code:          string(stripeErr.Code),
			Type:          string(stripeErr.Type),
			HTTPStatus:    stripeErr.HTTPStatusCode,
			RequestID:     stripeErr.RequestID,
			OriginalError: err,
		}
	}
	// Anything that is not an API response is a network failure.
	return &StripeError{Message: err.Error(), OriginalError: err}
}

func observeStripe(operation string, start time.Time) {
	if telemetry.Billing != nil {
		telemetry.Billing.StripeAPILatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// subscriptionFromStripe reduces a Stripe subscription to the fields the
// reconciler reads. The billing period lives on the first item.
func subscriptionFromStripe(s *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:       s.ID,
		Status:   string(s.Status),
		Metadata: s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
		out.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
		out.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
	}
	if s.CancelAt > 0 {
		t := unixTime(s.CancelAt)
		out.CancelAt = &t
	} else if s.CancelAtPeriodEnd && !out.CurrentPeriodEnd.IsZero() {
		t := out.CurrentPeriodEnd
		out.CancelAt = &t
	}
	if s.CanceledAt > 0 {
		t := unixTime(s.CanceledAt)
		out.CanceledAt = &t
	}
	return out
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
