package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Plan is the tier a tenant is entitled to.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
)

// ParsePlan returns the plan named by s, or false for an unknown name.
func ParsePlan(s string) (Plan, bool) {
	switch Plan(s) {
	case PlanFree, PlanStarter, PlanPro:
		return Plan(s), true
	}
	return "", false
}

// Paid reports whether the plan requires a subscription.
func (p Plan) Paid() bool {
	return p == PlanStarter || p == PlanPro
}

// Rank orders plans for gating: free < starter < pro.
func (p Plan) Rank() int {
	switch p {
	case PlanStarter:
		return 1
	case PlanPro:
		return 2
	default:
		return 0
	}
}

// SubscriptionStatus mirrors the processor's view of the tenant's subscription.
type SubscriptionStatus string

const (
	StatusNone     SubscriptionStatus = "none"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

// Live reports whether the status carries a paid entitlement (past_due is the grace period).
func (s SubscriptionStatus) Live() bool {
	return s == StatusActive || s == StatusPastDue
}

// BillingInterval is the recurrence of a paid plan.
type BillingInterval string

const (
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// ParseInterval returns the interval named by s, or false for an unknown name.
func ParseInterval(s string) (BillingInterval, bool) {
	switch BillingInterval(s) {
	case IntervalMonth, IntervalYear:
		return BillingInterval(s), true
	}
	return "", false
}

// TenantEntitlement is the billing slice of a tenant record.
//
// Empty ProcessorCustomerID and ProcessorSubscriptionID mean the columns are NULL.
// UpdatedAt is subscription_updated_at: it only moves forward and is the
// compare-and-swap key for every write. EventAt is the processor timestamp of
// the newest event that has been applied.
type TenantEntitlement struct {
	TenantID                uuid.UUID          `json:"tenant_id"`
	Plan                    Plan               `json:"plan"`
	ProcessorCustomerID     string             `json:"processor_customer_id,omitempty"`
	ProcessorSubscriptionID string             `json:"processor_subscription_id,omitempty"`
	Status                  SubscriptionStatus `json:"subscription_status"`
	PeriodStart             time.Time          `json:"subscription_period_start"`
	PeriodEnd               time.Time          `json:"subscription_period_end"`
	CancelAt                *time.Time         `json:"subscription_cancel_at,omitempty"`
	EventAt                 time.Time          `json:"-"`
	UpdatedAt               time.Time          `json:"subscription_updated_at"`
}

// NewFreeEntitlement returns the state of a tenant that has never subscribed.
func NewFreeEntitlement(tenantID uuid.UUID) TenantEntitlement {
	return TenantEntitlement{
		TenantID: tenantID,
		Plan:     PlanFree,
		Status:   StatusNone,
	}
}

// Validate checks the plan/status invariant: a tenant is on the free plan
// exactly when it has no live subscription.
func (e TenantEntitlement) Validate() error {
	if _, ok := ParsePlan(string(e.Plan)); !ok {
		return fmt.Errorf("unknown plan %q", e.Plan)
	}
	switch e.Status {
	case StatusNone, StatusCanceled:
		if e.Plan != PlanFree {
			return fmt.Errorf("plan %s requires a live subscription, status is %s", e.Plan, e.Status)
		}
	case StatusActive, StatusPastDue:
		if e.Plan == PlanFree {
			return fmt.Errorf("status %s requires a paid plan", e.Status)
		}
	default:
		return fmt.Errorf("unknown subscription status %q", e.Status)
	}
	return nil
}

// HasAccess reports whether the tenant may use features of the given plan.
// Past-due tenants keep access during the grace period.
func (e TenantEntitlement) HasAccess(required Plan) bool {
	if !required.Paid() {
		return true
	}
	return e.Status.Live() && e.Plan.Rank() >= required.Rank()
}
