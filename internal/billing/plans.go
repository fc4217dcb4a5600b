package billing

import (
	"fmt"

	"github.com/dukerupert/memberhub/internal/domain"
)

// PlanPrice identifies a purchasable plan and interval.
type PlanPrice struct {
	Plan     domain.Plan
	Interval domain.BillingInterval
}

// PriceTable maps each paid plan and interval to a processor price ID.
type PriceTable map[PlanPrice]string

// PaidPlans lists the plans checkout may sell.
var PaidPlans = []domain.Plan{domain.PlanStarter, domain.PlanPro}

// Intervals lists the billing intervals checkout may sell.
var Intervals = []domain.BillingInterval{domain.IntervalMonth, domain.IntervalYear}

// Lookup returns the price for a plan and interval.
func (t PriceTable) Lookup(plan domain.Plan, interval domain.BillingInterval) (string, error) {
	if !plan.Paid() {
		return "", ErrInvalidPlan
	}
	if _, ok := domain.ParseInterval(string(interval)); !ok {
		return "", ErrInvalidInterval
	}
	price, ok := t[PlanPrice{Plan: plan, Interval: interval}]
	if !ok || price == "" {
		return "", fmt.Errorf("%w: %s/%s", ErrPriceNotConfigured, plan, interval)
	}
	return price, nil
}

// PlanFor returns the plan sold at a price, used when a subscription changes
// price through the customer portal.
func (t PriceTable) PlanFor(priceID string) (domain.Plan, bool) {
	if priceID == "" {
		return "", false
	}
	for k, v := range t {
		if v == priceID {
			return k.Plan, true
		}
	}
	return "", false
}

// Validate reports the plan/interval pairs with no configured price.
func (t PriceTable) Validate() error {
	var missing []string
	for _, plan := range PaidPlans {
		for _, interval := range Intervals {
			if t[PlanPrice{Plan: plan, Interval: interval}] == "" {
				missing = append(missing, fmt.Sprintf("%s/%s", plan, interval))
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrPriceNotConfigured, missing)
	}
	return nil
}
