package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/dukerupert/memberhub/internal/domain"
)

// DefaultTolerance is the maximum age of a signature timestamp.
const DefaultTolerance = webhook.DefaultTolerance

// Verifier authenticates webhook deliveries against the shared signing secret
// and decodes them into VerifiedEvents. It has no side effects.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier creates a verifier. A zero tolerance uses DefaultTolerance.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance}
}

// Verify checks the signature over the exact raw bytes and only then parses them.
func Verify(rawBody []byte, signatureHeader, secret string) (*VerifiedEvent, error) {
	return NewVerifier(secret, 0).Verify(rawBody, signatureHeader)
}

// Verify checks the signature over the exact raw bytes and only then parses them.
// Errors are always *VerificationError.
func (v *Verifier) Verify(rawBody []byte, signatureHeader string) (*VerifiedEvent, error) {
	if signatureHeader == "" {
		return nil, &VerificationError{Reason: ErrMissingSignature}
	}
	if v.secret == "" {
		return nil, &VerificationError{Reason: ErrInvalidSignature, Err: errors.New("signing secret not configured")}
	}

	if err := webhook.ValidatePayloadWithTolerance(rawBody, signatureHeader, v.secret, v.tolerance); err != nil {
		if errors.Is(err, webhook.ErrNotSigned) {
			return nil, &VerificationError{Reason: ErrMissingSignature, Err: err}
		}
		return nil, &VerificationError{Reason: ErrInvalidSignature, Err: err}
	}

	evt, err := parseEvent(rawBody)
	if err != nil {
		return nil, &VerificationError{Reason: ErrMalformedEvent, Err: err}
	}
	return evt, nil
}

func parseEvent(raw []byte) (*VerifiedEvent, error) {
	var evt stripe.Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if evt.ID == "" || evt.Type == "" {
		return nil, errors.New("envelope missing id or type")
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return nil, errors.New("envelope missing data.object")
	}

	out := &VerifiedEvent{
		ID:      evt.ID,
		Type:    string(evt.Type),
		Created: time.Unix(evt.Created, 0).UTC(),
	}

	payload, err := decodePayload(out.Type, evt.Data.Raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", out.Type, err)
	}
	out.Payload = payload
	return out, nil
}

func decodePayload(eventType string, raw json.RawMessage) (Payload, error) {
	switch eventType {
	case EventCheckoutCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		p := CheckoutCompleted{
			SessionID: s.ID,
			TenantID:  tenantIDFromMetadata(s.Metadata, s.ClientReferenceID),
		}
		p.Plan = domain.Plan(s.Metadata[MetadataPlan])
		p.Interval = domain.BillingInterval(s.Metadata[MetadataInterval])
		if s.Customer != nil {
			p.CustomerID = s.Customer.ID
		}
		if s.Subscription != nil {
			p.SubscriptionID = s.Subscription.ID
		}
		return p, nil

	case EventSubscriptionUpdated:
		var s stripe.Subscription
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if s.ID == "" {
			return nil, errors.New("subscription without id")
		}
		return SubscriptionUpdated{Subscription: *subscriptionFromStripe(&s)}, nil

	case EventSubscriptionDeleted:
		var s stripe.Subscription
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if s.ID == "" {
			return nil, errors.New("subscription without id")
		}
		return SubscriptionDeleted{
			SubscriptionID: s.ID,
			TenantID:       tenantIDFromMetadata(s.Metadata, ""),
		}, nil

	case EventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, err
		}
		subID, md := invoiceSubscription(&inv)
		return InvoicePaymentFailed{
			InvoiceID:      inv.ID,
			SubscriptionID: subID,
			TenantID:       tenantIDFromMetadata(md, ""),
		}, nil

	case EventInvoicePaymentSucceeded, EventInvoicePaid:
		var inv stripe.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, err
		}
		subID, md := invoiceSubscription(&inv)
		return InvoicePaymentSucceeded{
			InvoiceID:      inv.ID,
			SubscriptionID: subID,
			TenantID:       tenantIDFromMetadata(md, ""),
		}, nil

	default:
		return UnknownEvent{Type: eventType}, nil
	}
}

// invoiceSubscription returns the subscription an invoice bills, if any,
// and the subscription metadata snapshot on the invoice.
func invoiceSubscription(inv *stripe.Invoice) (string, map[string]string) {
	if inv.Parent == nil || inv.Parent.SubscriptionDetails == nil {
		return "", nil
	}
	details := inv.Parent.SubscriptionDetails
	if details.Subscription == nil {
		return "", details.Metadata
	}
	return details.Subscription.ID, details.Metadata
}
