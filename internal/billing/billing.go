// Package billing reconciles tenant plan entitlements with the payment
// processor's webhook stream and starts hosted checkout for paid plans.
package billing

import (
	"context"
	"time"
)

//go:generate mockgen -destination=billingmock/processor.go -package=billingmock github.com/dukerupert/memberhub/internal/billing Processor

// Processor defines the payment processor calls the billing core makes.
// Stripe is the only implementation; tests use billingmock.
type Processor interface {
	// CreateCheckoutSession creates a hosted checkout for a subscription.
	// Returns the session with its single-use redirect URL.
	CreateCheckoutSession(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error)

	// GetSubscription retrieves the current state of a subscription.
	// Returns ErrSubscriptionNotFound if the processor has no such subscription.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// CreatePortalSession creates a customer portal session where the
	// customer can change plans, update payment methods, or cancel.
	CreatePortalSession(ctx context.Context, params CreatePortalSessionParams) (*PortalSession, error)
}

// CreateCheckoutSessionParams contains parameters for creating a checkout session.
type CreateCheckoutSessionParams struct {
	// PriceID is the processor price for the chosen plan and interval.
	PriceID string

	// CustomerID reuses an existing processor customer. Empty lets the
	// processor create one.
	CustomerID string

	// ClientReferenceID is echoed back on checkout.session.completed.
	ClientReferenceID string

	// Metadata is attached to both the session and the resulting subscription.
	Metadata map[string]string

	SuccessURL string
	CancelURL  string

	// IdempotencyKey makes client retries return the same session.
	IdempotencyKey string
}

// CheckoutSession represents a created hosted checkout.
type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// CreatePortalSessionParams contains parameters for creating a customer portal session.
type CreatePortalSessionParams struct {
	CustomerID string
	ReturnURL  string
}

// PortalSession represents a customer portal session.
type PortalSession struct {
	ID  string
	URL string
}

// Subscription is the processor's view of a recurring subscription, reduced
// to what the reconciler needs.
type Subscription struct {
	ID         string
	CustomerID string

	// Status is the processor's raw status ("active", "past_due", "unpaid", ...).
	Status string

	// PriceID is the price of the first subscription item.
	PriceID string

	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time

	// CancelAt is set when a cancellation is scheduled.
	CancelAt   *time.Time
	CanceledAt *time.Time

	Metadata map[string]string
}
