package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingSignature is returned when a webhook arrives without a signature header.
	ErrMissingSignature = errors.New("billing: missing webhook signature")

	// ErrInvalidSignature is returned when the signature does not match the
	// payload, is malformed, or its timestamp is outside the tolerance.
	ErrInvalidSignature = errors.New("billing: invalid webhook signature")

	// ErrMalformedEvent is returned when a correctly signed payload is not a
	// decodable event.
	ErrMalformedEvent = errors.New("billing: malformed event")

	// ErrStaleEvent is returned by transitions for events that a newer state
	// already supersedes. Stale events are acknowledged and dropped.
	ErrStaleEvent = errors.New("billing: stale event")

	// ErrTenantNotFound is returned when no tenant matches an ID or subscription.
	ErrTenantNotFound = errors.New("billing: tenant not found")

	// ErrSubscriptionLinked is returned by ApplyTransition when the
	// subscription is already recorded on another tenant.
	ErrSubscriptionLinked = errors.New("billing: subscription linked to another tenant")

	// ErrMissingMetadata is returned when a checkout completion lacks the
	// tenant, plan, or subscription needed to correlate it.
	ErrMissingMetadata = errors.New("billing: missing checkout metadata")

	// ErrInvalidPlan is returned for a plan outside the paid enumeration.
	ErrInvalidPlan = errors.New("billing: invalid plan")

	// ErrInvalidInterval is returned for an interval other than month or year.
	ErrInvalidInterval = errors.New("billing: invalid interval")

	// ErrPriceNotConfigured is returned when the price table has no entry for
	// a valid plan and interval.
	ErrPriceNotConfigured = errors.New("billing: price not configured")

	// ErrSubscriptionNotFound is returned when the processor has no such subscription.
	ErrSubscriptionNotFound = errors.New("billing: subscription not found")

	// ErrNoCustomer is returned when a tenant without a processor customer
	// asks for a portal session.
	ErrNoCustomer = errors.New("billing: tenant has no processor customer")
)

// VerificationError reports an untrusted webhook delivery. Reason is one of
// ErrMissingSignature, ErrInvalidSignature, or ErrMalformedEvent.
type VerificationError struct {
	Reason error
	Err    error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %v", e.Reason, e.Err)
	}
	return e.Reason.Error()
}

func (e *VerificationError) Unwrap() error {
	return e.Reason
}

// Label returns a short metric label for the reason.
func (e *VerificationError) Label() string {
	switch {
	case errors.Is(e.Reason, ErrMissingSignature):
		return "missing_signature"
	case errors.Is(e.Reason, ErrMalformedEvent):
		return "malformed_event"
	default:
		return "invalid_signature"
	}
}

// TransientError wraps a failure the caller should retry: the store or the
// processor was unavailable. The webhook endpoint answers 5xx so the
// processor redelivers.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("billing: transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is, or wraps, a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// StripeError wraps a Stripe API error with additional context.
type StripeError struct {
	Message       string // Human-readable error message
	Code          string // Stripe error code (e.g., "resource_missing")
	Type          string // Stripe error type (e.g., "api_error")
	HTTPStatus    int    // HTTP status code from Stripe
	RequestID     string // Stripe request ID for debugging
	OriginalError error  // Original error from Stripe SDK
}

func (e *StripeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe: %s (code: %s)", e.Message, e.Code)
	}
	return fmt.Sprintf("stripe: %s", e.Message)
}

func (e *StripeError) Unwrap() error {
	return e.OriginalError
}

// IsTemporary returns true if error is likely transient and retryable.
func (e *StripeError) IsTemporary() bool {
	if e.Code == "rate_limit" || e.Type == "api_error" {
		return true
	}
	return e.HTTPStatus == 0 || e.HTTPStatus == 429 || e.HTTPStatus >= 500
}
