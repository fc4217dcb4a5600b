package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/dukerupert/memberhub/internal/domain"
	"github.com/dukerupert/memberhub/internal/telemetry"
)

// DefaultMaxAttempts bounds read-compute-write retries after CAS conflicts.
const DefaultMaxAttempts = 3

// Outcome is what reconciling one event did. None of them is an error: the
// webhook endpoint acknowledges every outcome.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeStale     Outcome = "stale"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeNotFound  Outcome = "not_found"
	OutcomeDropped   Outcome = "dropped"
)

// Result describes a reconciled event.
type Result struct {
	Outcome  Outcome
	TenantID uuid.UUID

	// Entitlement is the state written when Outcome is OutcomeApplied.
	Entitlement *domain.TenantEntitlement

	// Reason explains stale, dropped, and ignored outcomes.
	Reason string
}

// SubscriptionGetter fetches a subscription from the processor.
type SubscriptionGetter interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
}

// Notifier is told about every committed entitlement change.
type Notifier interface {
	EntitlementChanged(ctx context.Context, ent domain.TenantEntitlement) error
}

var errWriteConflict = errors.New("billing: entitlement changed since read")

// Reconciler applies verified events to the Tenant Entitlement Store.
type Reconciler struct {
	store       Store
	subs        SubscriptionGetter
	prices      PriceTable
	notifier    Notifier
	logger      *slog.Logger
	now         func() time.Time
	maxAttempts int
}

// NewReconciler creates a Reconciler. notifier may be nil.
func NewReconciler(store Store, subs SubscriptionGetter, prices PriceTable, notifier Notifier, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:       store,
		subs:        subs,
		prices:      prices,
		notifier:    notifier,
		logger:      logger.With("service", "reconciler"),
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
	}
}

// SetClock replaces the clock used to stamp cancellations.
func (r *Reconciler) SetClock(now func() time.Time) {
	r.now = now
}

// Reconcile applies one event. Admission, the tenant read, and the write run
// in one transaction, so a failure leaves no marker behind and the
// redelivered event is processed again. The only error returned is
// *TransientError.
func (r *Reconciler) Reconcile(ctx context.Context, evt *VerifiedEvent) (Result, error) {
	start := time.Now()
	logger := r.logger.With("event_id", evt.ID, "event_type", evt.Type)

	if telemetry.Billing != nil {
		telemetry.Billing.WebhookReceived.WithLabelValues(evt.Type).Inc()
	}

	res, err := r.reconcile(ctx, evt, logger)
	r.report(ctx, evt, res, err, logger)

	if telemetry.Billing != nil {
		outcome := string(res.Outcome)
		if err != nil {
			outcome = "transient"
			telemetry.Billing.TransientFailures.WithLabelValues(evt.Type).Inc()
		}
		telemetry.Billing.WebhookOutcomes.WithLabelValues(evt.Type, outcome).Inc()
		telemetry.Billing.WebhookLatency.WithLabelValues(evt.Type).Observe(time.Since(start).Seconds())
	}
	return res, err
}

func (r *Reconciler) reconcile(ctx context.Context, evt *VerifiedEvent, logger *slog.Logger) (Result, error) {
	var sub *Subscription

	switch p := evt.Payload.(type) {
	case UnknownEvent:
		return Result{Outcome: OutcomeIgnored, Reason: "unhandled event type"}, nil

	case InvoicePaymentFailed:
		if p.SubscriptionID == "" {
			return Result{Outcome: OutcomeIgnored, Reason: "invoice not tied to a subscription"}, nil
		}

	case InvoicePaymentSucceeded:
		if p.SubscriptionID == "" {
			return Result{Outcome: OutcomeIgnored, Reason: "invoice not tied to a subscription"}, nil
		}

	case CheckoutCompleted:
		if p.TenantID == uuid.Nil || !p.Plan.Paid() || p.SubscriptionID == "" {
			return Result{
				Outcome: OutcomeDropped,
				Reason: fmt.Sprintf("%v: tenant=%q plan=%q subscription=%q",
					ErrMissingMetadata, p.TenantID, p.Plan, p.SubscriptionID),
			}, nil
		}

		// Fetched outside the transaction to keep it short.
		var err error
		sub, err = r.subs.GetSubscription(ctx, p.SubscriptionID)
		if errors.Is(err, ErrSubscriptionNotFound) {
			return Result{
				Outcome:  OutcomeDropped,
				TenantID: p.TenantID,
				Reason:   fmt.Sprintf("subscription %s not found at processor", p.SubscriptionID),
			}, nil
		}
		if err != nil {
			return Result{TenantID: p.TenantID}, &TransientError{Op: "fetch subscription", Err: err}
		}
	}

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		var res Result
		err := r.store.WithTx(ctx, func(tx Tx) error {
			return r.apply(ctx, tx, evt, sub, &res)
		})
		if errors.Is(err, errWriteConflict) {
			if telemetry.Billing != nil {
				telemetry.Billing.TransitionConflicts.Inc()
			}
			logger.Debug("entitlement changed during reconciliation, retrying",
				"tenant_id", res.TenantID,
				"attempt", attempt)
			continue
		}
		if err != nil {
			return res, &TransientError{Op: "apply transition", Err: err}
		}
		return res, nil
	}

	return Result{}, &TransientError{
		Op:  "apply transition",
		Err: fmt.Errorf("%w after %d attempts", errWriteConflict, r.maxAttempts),
	}
}

func (r *Reconciler) apply(ctx context.Context, tx Tx, evt *VerifiedEvent, sub *Subscription, res *Result) error {
	admission, err := Admit(ctx, tx, evt.ID, evt.Type)
	if err != nil {
		return err
	}
	if admission == AlreadyProcessed {
		res.Outcome = OutcomeDuplicate
		return nil
	}

	cur, err := r.resolveTenant(ctx, tx, evt.Payload)
	if errors.Is(err, ErrTenantNotFound) {
		res.Outcome = OutcomeNotFound
		res.Reason = err.Error()
		return nil
	}
	if err != nil {
		return err
	}
	res.TenantID = cur.TenantID

	next, err := Transition(cur, evt, sub, r.prices, r.now().UTC())
	switch {
	case errors.Is(err, ErrStaleEvent):
		res.Outcome = OutcomeStale
		res.Reason = err.Error()
		return nil
	case err != nil:
		res.Outcome = OutcomeDropped
		res.Reason = err.Error()
		return nil
	}

	result, err := tx.ApplyTransition(ctx, cur.TenantID, next, cur.UpdatedAt)
	if errors.Is(err, ErrSubscriptionLinked) {
		// Redelivery cannot fix this, so the marker commits and operators are told.
		res.Outcome = OutcomeDropped
		res.Reason = err.Error()
		return nil
	}
	if err != nil {
		return err
	}
	if result == Conflict {
		return errWriteConflict
	}

	// Read back for the new subscription_updated_at.
	written, err := tx.Get(ctx, cur.TenantID)
	if err != nil {
		return err
	}

	res.Outcome = OutcomeApplied
	res.Entitlement = &written
	return nil
}

// resolveTenant finds the tenant an event is about. Subscription events look
// up by subscription ID and fall back to the tenant_id metadata, which covers
// events that arrive before checkout completion links the subscription.
func (r *Reconciler) resolveTenant(ctx context.Context, tx Tx, payload Payload) (domain.TenantEntitlement, error) {
	switch p := payload.(type) {
	case CheckoutCompleted:
		return tx.Get(ctx, p.TenantID)
	case SubscriptionUpdated:
		return bySubscription(ctx, tx, p.Subscription.ID, tenantIDFromMetadata(p.Subscription.Metadata, ""))
	case SubscriptionDeleted:
		return bySubscription(ctx, tx, p.SubscriptionID, p.TenantID)
	case InvoicePaymentFailed:
		return bySubscription(ctx, tx, p.SubscriptionID, p.TenantID)
	case InvoicePaymentSucceeded:
		return bySubscription(ctx, tx, p.SubscriptionID, p.TenantID)
	default:
		return domain.TenantEntitlement{}, fmt.Errorf("no tenant reference in %T", payload)
	}
}

func bySubscription(ctx context.Context, tx Tx, subscriptionID string, fallback uuid.UUID) (domain.TenantEntitlement, error) {
	ent, err := tx.GetBySubscriptionID(ctx, subscriptionID)
	if errors.Is(err, ErrTenantNotFound) && fallback != uuid.Nil {
		return tx.Get(ctx, fallback)
	}
	return ent, err
}

// report logs the result and runs post-commit effects.
func (r *Reconciler) report(ctx context.Context, evt *VerifiedEvent, res Result, err error, logger *slog.Logger) {
	if err != nil {
		logger.Error("reconciliation failed, awaiting redelivery",
			"tenant_id", res.TenantID,
			"error", err)
		telemetry.CaptureErrorWithTenant(err, res.TenantID.String(), map[string]interface{}{
			"event_id":   evt.ID,
			"event_type": evt.Type,
		})
		return
	}

	switch res.Outcome {
	case OutcomeApplied:
		logger.Info("entitlement updated",
			"tenant_id", res.TenantID,
			"plan", res.Entitlement.Plan,
			"status", res.Entitlement.Status)
		if telemetry.Billing != nil {
			telemetry.Billing.TransitionsApplied.WithLabelValues(string(res.Entitlement.Plan), string(res.Entitlement.Status)).Inc()
		}
		if r.notifier != nil {
			if nerr := r.notifier.EntitlementChanged(ctx, *res.Entitlement); nerr != nil {
				logger.Warn("failed to publish entitlement change",
					"tenant_id", res.TenantID,
					"error", nerr)
			}
		}

	case OutcomeDuplicate:
		logger.Info("event already processed")

	case OutcomeStale:
		logger.Info("stale event dropped",
			"tenant_id", res.TenantID,
			"reason", res.Reason)

	case OutcomeIgnored:
		logger.Debug("event ignored", "reason", res.Reason)

	case OutcomeNotFound:
		// A data-integrity gap between us and the processor. Acknowledged so
		// the processor stops redelivering, surfaced to operators instead.
		logger.Error("no tenant for event",
			"reason", res.Reason)
		if telemetry.Billing != nil {
			telemetry.Billing.TenantNotFound.WithLabelValues(evt.Type).Inc()
		}
		telemetry.CaptureErrorWithTenant(ErrTenantNotFound, "", map[string]interface{}{
			"event_id":   evt.ID,
			"event_type": evt.Type,
		})

	case OutcomeDropped:
		logger.Error("event dropped",
			"tenant_id", res.TenantID,
			"reason", res.Reason)
		telemetry.CaptureMessage(fmt.Sprintf("billing event %s (%s) dropped: %s", evt.ID, evt.Type, res.Reason), sentry.LevelWarning)
	}
}
