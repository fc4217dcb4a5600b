package billing

import (
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/memberhub/internal/domain"
)

// Processor event types the reconciler acts on.
const (
	EventCheckoutCompleted       = "checkout.session.completed"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaid             = "invoice.paid"
)

// Metadata keys written on checkout sessions and their subscriptions.
const (
	MetadataTenantID = "tenant_id"
	MetadataPlan     = "plan"
	MetadataInterval = "interval"
)

// VerifiedEvent is a webhook event whose signature has been checked.
// ID is the processor's logical event id; redeliveries share it.
type VerifiedEvent struct {
	ID      string
	Type    string
	Created time.Time
	Payload Payload
}

// Payload is the closed set of event kinds. Types the reconciler does not
// handle decode to UnknownEvent rather than failing.
type Payload interface {
	eventPayload()
}

// CheckoutCompleted is a finished hosted checkout.
// TenantID is uuid.Nil when the session carried no usable tenant reference.
type CheckoutCompleted struct {
	SessionID      string
	CustomerID     string
	SubscriptionID string
	TenantID       uuid.UUID
	Plan           domain.Plan
	Interval       domain.BillingInterval
}

// SubscriptionUpdated carries the subscription as of the event.
type SubscriptionUpdated struct {
	Subscription Subscription
}

// SubscriptionDeleted is an ended subscription.
type SubscriptionDeleted struct {
	SubscriptionID string
	TenantID       uuid.UUID
}

// InvoicePaymentFailed is a failed renewal charge.
type InvoicePaymentFailed struct {
	InvoiceID      string
	SubscriptionID string
	TenantID       uuid.UUID
}

// InvoicePaymentSucceeded is a successful charge, from either
// invoice.payment_succeeded or invoice.paid.
type InvoicePaymentSucceeded struct {
	InvoiceID      string
	SubscriptionID string
	TenantID       uuid.UUID
}

// UnknownEvent is any event type not listed above.
type UnknownEvent struct {
	Type string
}

func (CheckoutCompleted) eventPayload()       {}
func (SubscriptionUpdated) eventPayload()     {}
func (SubscriptionDeleted) eventPayload()     {}
func (InvoicePaymentFailed) eventPayload()    {}
func (InvoicePaymentSucceeded) eventPayload() {}
func (UnknownEvent) eventPayload()            {}

// tenantIDFromMetadata parses the tenant reference, or returns uuid.Nil.
func tenantIDFromMetadata(md map[string]string, fallback string) uuid.UUID {
	for _, v := range []string{md[MetadataTenantID], fallback} {
		if v == "" {
			continue
		}
		if id, err := uuid.Parse(v); err == nil {
			return id
		}
	}
	return uuid.Nil
}
