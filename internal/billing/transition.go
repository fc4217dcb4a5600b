package billing

import (
	"fmt"
	"time"

	"github.com/dukerupert/memberhub/internal/domain"
)

// Transition returns the entitlement that results from applying evt to cur.
// It does no I/O. sub is the subscription fetched for a checkout completion
// and may be nil for other events. now stamps cancellations.
//
// Events that a newer stored state supersedes return an error wrapping
// ErrStaleEvent. Events created before the last applied one are stale, with
// two exceptions: subscription deletion always applies, and a subscription
// update is judged by its billing period (see applySubscriptionUpdated).
func Transition(cur domain.TenantEntitlement, evt *VerifiedEvent, sub *Subscription, prices PriceTable, now time.Time) (domain.TenantEntitlement, error) {
	outOfOrder := evt.Created.Before(cur.EventAt)
	switch evt.Payload.(type) {
	case SubscriptionDeleted, SubscriptionUpdated:
	default:
		if outOfOrder {
			return cur, stale("event created %s before last applied event %s",
				evt.Created.Format(time.RFC3339), cur.EventAt.Format(time.RFC3339))
		}
	}

	var (
		next domain.TenantEntitlement
		err  error
	)
	switch p := evt.Payload.(type) {
	case CheckoutCompleted:
		next, err = applyCheckoutCompleted(cur, p, sub)
	case SubscriptionUpdated:
		next, err = applySubscriptionUpdated(cur, p.Subscription, prices, evt.Created, outOfOrder)
	case SubscriptionDeleted:
		next, err = applySubscriptionDeleted(cur, p, now)
	case InvoicePaymentFailed:
		next, err = applyInvoiceStatus(cur, p.SubscriptionID, domain.StatusPastDue)
	case InvoicePaymentSucceeded:
		next, err = applyInvoiceStatus(cur, p.SubscriptionID, domain.StatusActive)
	default:
		return cur, fmt.Errorf("no transition for event type %s", evt.Type)
	}
	if err != nil {
		return cur, err
	}

	if next.EventAt.Before(evt.Created) {
		next.EventAt = evt.Created
	}
	if err := next.Validate(); err != nil {
		return cur, fmt.Errorf("%s would break entitlement invariant: %w", evt.Type, err)
	}
	return next, nil
}

func applyCheckoutCompleted(cur domain.TenantEntitlement, p CheckoutCompleted, sub *Subscription) (domain.TenantEntitlement, error) {
	if !p.Plan.Paid() || p.SubscriptionID == "" {
		return cur, ErrMissingMetadata
	}
	if sub != nil && mapSubscriptionStatus(sub.Status, domain.StatusActive) == domain.StatusCanceled {
		return cur, stale("subscription %s already ended", sub.ID)
	}

	next := cur
	next.Plan = p.Plan
	next.Status = domain.StatusActive
	next.ProcessorSubscriptionID = p.SubscriptionID
	if next.ProcessorCustomerID == "" {
		next.ProcessorCustomerID = p.CustomerID
	}
	next.CancelAt = nil

	if sub != nil {
		if next.ProcessorCustomerID == "" {
			next.ProcessorCustomerID = sub.CustomerID
		}
		next.PeriodStart = sub.CurrentPeriodStart
		next.PeriodEnd = sub.CurrentPeriodEnd
		next.CancelAt = copyTime(sub.CancelAt)
	}
	return next, nil
}

// applySubscriptionUpdated is stale only when the period ends before the
// stored one. An update created before the last applied event carries an old
// status, so it keeps the stored status and contributes only a strictly newer
// period with its plan and scheduled cancellation.
func applySubscriptionUpdated(cur domain.TenantEntitlement, s Subscription, prices PriceTable, at time.Time, outOfOrder bool) (domain.TenantEntitlement, error) {
	if err := checkCurrentSubscription(cur, s.ID); err != nil {
		return cur, err
	}
	if !cur.PeriodEnd.IsZero() && !s.CurrentPeriodEnd.IsZero() && s.CurrentPeriodEnd.Before(cur.PeriodEnd) {
		return cur, stale("period end %s before stored %s",
			s.CurrentPeriodEnd.Format(time.RFC3339), cur.PeriodEnd.Format(time.RFC3339))
	}

	next := cur
	if outOfOrder {
		if s.CurrentPeriodEnd.IsZero() || !s.CurrentPeriodEnd.After(cur.PeriodEnd) {
			return cur, stale("update created %s before last applied event %s carries no newer period",
				at.Format(time.RFC3339), cur.EventAt.Format(time.RFC3339))
		}
	} else {
		next.Status = mapSubscriptionStatus(s.Status, cur.Status)
	}
	if !s.CurrentPeriodStart.IsZero() {
		next.PeriodStart = s.CurrentPeriodStart
	}
	if !s.CurrentPeriodEnd.IsZero() {
		next.PeriodEnd = s.CurrentPeriodEnd
	}

	if next.Status == domain.StatusCanceled {
		next.Plan = domain.PlanFree
		switch {
		case s.CanceledAt != nil:
			next.CancelAt = copyTime(s.CanceledAt)
		default:
			next.CancelAt = &at
		}
		return next, nil
	}

	if plan, ok := prices.PlanFor(s.PriceID); ok {
		next.Plan = plan
	}
	next.CancelAt = copyTime(s.CancelAt)
	return next, nil
}

func applySubscriptionDeleted(cur domain.TenantEntitlement, p SubscriptionDeleted, now time.Time) (domain.TenantEntitlement, error) {
	if cur.ProcessorSubscriptionID != p.SubscriptionID {
		return cur, stale("subscription %s is not the tenant's current subscription", p.SubscriptionID)
	}
	if cur.Status == domain.StatusCanceled && cur.Plan == domain.PlanFree {
		return cur, stale("subscription %s already canceled", p.SubscriptionID)
	}

	next := cur
	next.Plan = domain.PlanFree
	next.Status = domain.StatusCanceled
	next.CancelAt = &now
	return next, nil
}

// applyInvoiceStatus moves status only. Plan is untouched, so a failed
// payment leaves the tenant on its paid plan for the grace period.
func applyInvoiceStatus(cur domain.TenantEntitlement, subscriptionID string, status domain.SubscriptionStatus) (domain.TenantEntitlement, error) {
	if err := checkCurrentSubscription(cur, subscriptionID); err != nil {
		return cur, err
	}
	next := cur
	next.Status = status
	return next, nil
}

// checkCurrentSubscription rejects events for a subscription the tenant no
// longer (or not yet) holds, and events that would revive a tenant without a
// live subscription. Only checkout grants a paid plan from none or canceled.
func checkCurrentSubscription(cur domain.TenantEntitlement, subscriptionID string) error {
	if cur.ProcessorSubscriptionID != subscriptionID {
		return stale("subscription %s is not the tenant's current subscription", subscriptionID)
	}
	if !cur.Status.Live() {
		return stale("tenant has no live subscription (status %s)", cur.Status)
	}
	return nil
}

// mapSubscriptionStatus maps a processor status to an entitlement status.
// Statuses with no entitlement meaning (incomplete, paused) keep the current one.
func mapSubscriptionStatus(processorStatus string, current domain.SubscriptionStatus) domain.SubscriptionStatus {
	switch processorStatus {
	case "active", "trialing":
		return domain.StatusActive
	case "past_due", "unpaid":
		return domain.StatusPastDue
	case "canceled", "incomplete_expired":
		return domain.StatusCanceled
	default:
		return current
	}
}

func stale(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrStaleEvent, fmt.Sprintf(format, args...))
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
