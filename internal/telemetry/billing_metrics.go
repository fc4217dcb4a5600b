package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BillingMetrics holds Prometheus metrics for the subscription billing core.
// Labels carry event types and outcomes, never tenant IDs: the reconciler runs
// for every tenant and per-tenant series would be unbounded.
type BillingMetrics struct {
	// Webhooks
	WebhookReceived      *prometheus.CounterVec
	WebhookOutcomes      *prometheus.CounterVec
	WebhookLatency       *prometheus.HistogramVec
	VerificationFailures *prometheus.CounterVec

	// Reconciliation
	TransitionsApplied  *prometheus.CounterVec
	TransitionConflicts prometheus.Counter
	TenantNotFound      *prometheus.CounterVec
	TransientFailures   *prometheus.CounterVec

	// Checkout
	CheckoutStarted *prometheus.CounterVec
	CheckoutFailed  *prometheus.CounterVec
	PortalSessions  prometheus.Counter

	// Dedup retention
	MarkersPruned prometheus.Counter

	// Entitlement cache
	CacheLookups *prometheus.CounterVec

	// External API performance
	StripeAPILatency *prometheus.HistogramVec
}

// NewBillingMetrics creates billing metrics and registers them with reg.
func NewBillingMetrics(namespace string, reg prometheus.Registerer) *BillingMetrics {
	if namespace == "" {
		namespace = "memberhub"
	}

	subsystem := "billing"
	factory := promauto.With(reg)

	return &BillingMetrics{
		// =======================================================================
		// Webhooks
		// =======================================================================
		WebhookReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_received_total",
				Help:      "Verified webhook events received",
			},
			[]string{"event_type"},
		),
		WebhookOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_outcomes_total",
				Help:      "Webhook events by reconciliation outcome",
			},
			[]string{"event_type", "outcome"}, // outcome: applied, duplicate, stale, ignored, not_found, dropped, transient
		),
		WebhookLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_duration_seconds",
				Help:      "Time to reconcile a webhook event",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"event_type"},
		),
		VerificationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_verification_failures_total",
				Help:      "Webhook deliveries rejected before reconciliation",
			},
			[]string{"reason"}, // reason: missing_signature, invalid_signature, malformed_event
		),

		// =======================================================================
		// Reconciliation
		// =======================================================================
		TransitionsApplied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "transitions_applied_total",
				Help:      "Entitlement transitions written to the store",
			},
			[]string{"plan", "status"},
		),
		TransitionConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "transition_conflicts_total",
				Help:      "Compare-and-swap conflicts that forced a re-read",
			},
		),
		TenantNotFound: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "tenant_not_found_total",
				Help:      "Events that could not be correlated to a tenant",
			},
			[]string{"event_type"},
		),
		TransientFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "transient_failures_total",
				Help:      "Reconciliation attempts failed for redelivery",
			},
			[]string{"event_type"},
		),

		// =======================================================================
		// Checkout
		// =======================================================================
		CheckoutStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_started_total",
				Help:      "Checkout sessions created",
			},
			[]string{"plan", "interval"},
		),
		CheckoutFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "checkout_failed_total",
				Help:      "Checkout initiations rejected or failed",
			},
			[]string{"reason"}, // reason: invalid, forbidden, conflict, processor
		),
		PortalSessions: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "portal_sessions_total",
				Help:      "Billing portal sessions created",
			},
		),

		MarkersPruned: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "dedup_markers_pruned_total",
				Help:      "Processed-event markers deleted by retention",
			},
		),

		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "entitlement_cache_lookups_total",
				Help:      "Entitlement cache lookups",
			},
			[]string{"result"}, // result: hit, miss, error
		),

		StripeAPILatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "stripe_api_duration_seconds",
				Help:      "Stripe API call duration (helps differentiate app slowness from Stripe issues)",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"}, // operation: create_checkout_session, get_subscription, create_portal_session
		),
	}
}

// Global instance for easy access from services and handlers
var Billing *BillingMetrics

// InitBillingMetrics initializes the global billing metrics instance on the default registry.
func InitBillingMetrics(namespace string) *BillingMetrics {
	Billing = NewBillingMetrics(namespace, prometheus.DefaultRegisterer)
	return Billing
}
