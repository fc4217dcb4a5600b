package billing_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dukerupert/memberhub/internal/billing"
	"github.com/dukerupert/memberhub/internal/billing/billingmock"
	"github.com/dukerupert/memberhub/internal/domain"
)

var (
	t0     = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	t1     = t0.AddDate(0, 1, 0)
	frozen = time.Date(2025, 3, 20, 9, 30, 0, 0, time.UTC)

	prices = billing.PriceTable{
		{Plan: domain.PlanStarter, Interval: domain.IntervalMonth}: "price_starter_month",
		{Plan: domain.PlanStarter, Interval: domain.IntervalYear}:  "price_starter_year",
		{Plan: domain.PlanPro, Interval: domain.IntervalMonth}:     "price_pro_month",
		{Plan: domain.PlanPro, Interval: domain.IntervalYear}:      "price_pro_year",
	}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []domain.TenantEntitlement
	err     error
}

func (n *recordingNotifier) EntitlementChanged(_ context.Context, ent domain.TenantEntitlement) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, ent)
	return n.err
}

// flakyStore injects conflicts and failures into ApplyTransition.
type flakyStore struct {
	*billing.MemoryStore
	conflicts int
	applyErr  error
}

func (s *flakyStore) WithTx(ctx context.Context, fn func(tx billing.Tx) error) error {
	return s.MemoryStore.WithTx(ctx, func(tx billing.Tx) error {
		return fn(&flakyTx{Tx: tx, store: s})
	})
}

type flakyTx struct {
	billing.Tx
	store *flakyStore
}

func (tx *flakyTx) ApplyTransition(ctx context.Context, tenantID uuid.UUID, next domain.TenantEntitlement, expected time.Time) (billing.ApplyResult, error) {
	if tx.store.applyErr != nil {
		return 0, tx.store.applyErr
	}
	if tx.store.conflicts > 0 {
		tx.store.conflicts--
		return billing.Conflict, nil
	}
	return tx.Tx.ApplyTransition(ctx, tenantID, next, expected)
}

type fixture struct {
	store      *billing.MemoryStore
	processor  *billingmock.MockProcessor
	notifier   *recordingNotifier
	reconciler *billing.Reconciler
	tenantID   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)

	f := &fixture{
		store:     billing.NewMemoryStore(),
		processor: billingmock.NewMockProcessor(ctrl),
		notifier:  &recordingNotifier{},
		tenantID:  uuid.New(),
	}
	f.store.Put(domain.NewFreeEntitlement(f.tenantID))
	f.reconciler = f.newReconciler(f.store)
	return f
}

func (f *fixture) newReconciler(store billing.Store) *billing.Reconciler {
	r := billing.NewReconciler(store, f.processor, prices, f.notifier, discardLogger())
	r.SetClock(func() time.Time { return frozen })
	return r
}

func (f *fixture) get(t *testing.T) domain.TenantEntitlement {
	t.Helper()
	ent, err := f.store.Get(context.Background(), f.tenantID)
	require.NoError(t, err)
	return ent
}

func (f *fixture) checkoutEvent(id string) *billing.VerifiedEvent {
	return &billing.VerifiedEvent{
		ID:      id,
		Type:    billing.EventCheckoutCompleted,
		Created: t0.Add(time.Second),
		Payload: billing.CheckoutCompleted{
			SessionID:      "cs_1",
			CustomerID:     "cus_1",
			SubscriptionID: "sub_1",
			TenantID:       f.tenantID,
			Plan:           domain.PlanPro,
			Interval:       domain.IntervalMonth,
		},
	}
}

func sub1() *billing.Subscription {
	return &billing.Subscription{
		ID:                 "sub_1",
		CustomerID:         "cus_1",
		Status:             "active",
		PriceID:            "price_pro_month",
		CurrentPeriodStart: t0,
		CurrentPeriodEnd:   t1,
	}
}

func (f *fixture) activate(t *testing.T) {
	t.Helper()
	f.processor.EXPECT().GetSubscription(gomock.Any(), "sub_1").Return(sub1(), nil)
	res, err := f.reconciler.Reconcile(context.Background(), f.checkoutEvent("evt_checkout"))
	require.NoError(t, err)
	require.Equal(t, billing.OutcomeApplied, res.Outcome)
}

func TestReconcile_Scenarios(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	checkout := f.checkoutEvent("evt_A")

	// Fetched again on redelivery, before the duplicate is detected.
	f.processor.EXPECT().GetSubscription(gomock.Any(), "sub_1").Return(sub1(), nil).Times(2)

	t.Run("A checkout completed activates plan", func(t *testing.T) {
		res, err := f.reconciler.Reconcile(ctx, checkout)
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeApplied, res.Outcome)
		assert.Equal(t, f.tenantID, res.TenantID)

		ent := f.get(t)
		assert.Equal(t, domain.PlanPro, ent.Plan)
		assert.Equal(t, domain.StatusActive, ent.Status)
		assert.Equal(t, t0, ent.PeriodStart)
		assert.Equal(t, t1, ent.PeriodEnd)
		assert.Equal(t, "cus_1", ent.ProcessorCustomerID)
		assert.Equal(t, "sub_1", ent.ProcessorSubscriptionID)
	})

	t.Run("B payment failed keeps plan", func(t *testing.T) {
		res, err := f.reconciler.Reconcile(ctx, &billing.VerifiedEvent{
			ID: "evt_B", Type: billing.EventInvoicePaymentFailed, Created: t0.Add(time.Hour),
			Payload: billing.InvoicePaymentFailed{InvoiceID: "in_1", SubscriptionID: "sub_1"},
		})
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeApplied, res.Outcome)

		ent := f.get(t)
		assert.Equal(t, domain.PlanPro, ent.Plan)
		assert.Equal(t, domain.StatusPastDue, ent.Status)
	})

	t.Run("C payment succeeded restores active", func(t *testing.T) {
		res, err := f.reconciler.Reconcile(ctx, &billing.VerifiedEvent{
			ID: "evt_C", Type: billing.EventInvoicePaymentSucceeded, Created: t0.Add(2 * time.Hour),
			Payload: billing.InvoicePaymentSucceeded{InvoiceID: "in_2", SubscriptionID: "sub_1"},
		})
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeApplied, res.Outcome)

		ent := f.get(t)
		assert.Equal(t, domain.PlanPro, ent.Plan)
		assert.Equal(t, domain.StatusActive, ent.Status)
	})

	t.Run("D redelivered checkout is a no-op", func(t *testing.T) {
		before := f.get(t)

		res, err := f.reconciler.Reconcile(ctx, checkout)
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeDuplicate, res.Outcome)
		assert.Equal(t, before, f.get(t))
	})

	t.Run("E subscription deleted downgrades", func(t *testing.T) {
		res, err := f.reconciler.Reconcile(ctx, &billing.VerifiedEvent{
			ID: "evt_E", Type: billing.EventSubscriptionDeleted, Created: t0.Add(3 * time.Hour),
			Payload: billing.SubscriptionDeleted{SubscriptionID: "sub_1"},
		})
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeApplied, res.Outcome)

		ent := f.get(t)
		assert.Equal(t, domain.PlanFree, ent.Plan)
		assert.Equal(t, domain.StatusCanceled, ent.Status)
		require.NotNil(t, ent.CancelAt)
		assert.Equal(t, frozen, *ent.CancelAt)
	})

	assert.Len(t, f.notifier.changes, 4, "one notification per applied transition")
}

func TestReconcile_ScenarioF_OlderPeriodIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.activate(t)
	before := f.get(t)

	res, err := f.reconciler.Reconcile(ctx, &billing.VerifiedEvent{
		ID: "evt_F", Type: billing.EventSubscriptionUpdated, Created: t0.Add(time.Hour),
		Payload: billing.SubscriptionUpdated{Subscription: billing.Subscription{
			ID: "sub_1", Status: "past_due", CurrentPeriodStart: t0.AddDate(0, -1, 0), CurrentPeriodEnd: t0,
		}},
	})

	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeStale, res.Outcome)
	assert.Equal(t, before, f.get(t))
}

func TestReconcile_LateSubscriptionUpdateKeepsScheduledCancellation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.activate(t)
	t2 := t1.AddDate(0, 1, 0)

	res, err := f.reconciler.Reconcile(ctx, &billing.VerifiedEvent{
		ID: "evt_paid", Type: billing.EventInvoicePaymentSucceeded, Created: t0.Add(20 * time.Second),
		Payload: billing.InvoicePaymentSucceeded{SubscriptionID: "sub_1"},
	})
	require.NoError(t, err)
	require.Equal(t, billing.OutcomeApplied, res.Outcome)

	// Created before the invoice event, delivered after it.
	cancelAt := t1
	res, err = f.reconciler.Reconcile(ctx, &billing.VerifiedEvent{
		ID: "evt_update", Type: billing.EventSubscriptionUpdated, Created: t0.Add(10 * time.Second),
		Payload: billing.SubscriptionUpdated{Subscription: billing.Subscription{
			ID: "sub_1", Status: "active", PriceID: "price_pro_month",
			CurrentPeriodStart: t1, CurrentPeriodEnd: t2, CancelAt: &cancelAt,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeApplied, res.Outcome, res.Reason)

	ent := f.get(t)
	assert.Equal(t, domain.StatusActive, ent.Status)
	assert.Equal(t, t1, ent.PeriodStart)
	assert.Equal(t, t2, ent.PeriodEnd)
	require.NotNil(t, ent.CancelAt)
	assert.Equal(t, t1, *ent.CancelAt)
}

func TestReconcile_SubscriptionOnAnotherTenantIsDropped(t *testing.T) {
	f := newFixture(t)
	holder := activeProHolding(uuid.New(), "sub_1")
	f.store.Put(holder)
	f.processor.EXPECT().GetSubscription(gomock.Any(), "sub_1").Return(sub1(), nil)

	res, err := f.reconciler.Reconcile(context.Background(), f.checkoutEvent("evt_conflict"))

	require.NoError(t, err, "redelivery cannot resolve a subscription held by another tenant")
	assert.Equal(t, billing.OutcomeDropped, res.Outcome)
	assert.Contains(t, res.Reason, billing.ErrSubscriptionLinked.Error())
	assert.True(t, f.store.HasMarker("evt_conflict"))
	assert.Equal(t, domain.NewFreeEntitlement(f.tenantID), f.get(t))

	still, err := f.store.Get(context.Background(), holder.TenantID)
	require.NoError(t, err)
	assert.Equal(t, holder, still)
	assert.Empty(t, f.notifier.changes)
}

func activeProHolding(tenantID uuid.UUID, subscriptionID string) domain.TenantEntitlement {
	return domain.TenantEntitlement{
		TenantID:                tenantID,
		Plan:                    domain.PlanPro,
		ProcessorCustomerID:     "cus_other",
		ProcessorSubscriptionID: subscriptionID,
		Status:                  domain.StatusActive,
		PeriodStart:             t0,
		PeriodEnd:               t1,
		EventAt:                 t0,
		UpdatedAt:               t0,
	}
}

func TestReconcile_Idempotence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.activate(t)

	evt := &billing.VerifiedEvent{
		ID: "evt_fail", Type: billing.EventInvoicePaymentFailed, Created: t0.Add(time.Hour),
		Payload: billing.InvoicePaymentFailed{SubscriptionID: "sub_1"},
	}

	_, err := f.reconciler.Reconcile(ctx, evt)
	require.NoError(t, err)
	once := f.get(t)

	res, err := f.reconciler.Reconcile(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeDuplicate, res.Outcome)
	assert.Equal(t, once, f.get(t))
}

func TestReconcile_NotFoundIsAcknowledged(t *testing.T) {
	f := newFixture(t)

	res, err := f.reconciler.Reconcile(context.Background(), &billing.VerifiedEvent{
		ID: "evt_orphan", Type: billing.EventInvoicePaymentFailed, Created: t0,
		Payload: billing.InvoicePaymentFailed{SubscriptionID: "sub_unknown"},
	})

	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeNotFound, res.Outcome)
	assert.True(t, f.store.HasMarker("evt_orphan"))
	assert.Empty(t, f.notifier.changes)
}

func TestReconcile_EarlyInvoiceFallsBackToTenantMetadata(t *testing.T) {
	f := newFixture(t)

	// invoice.paid commonly arrives before checkout.session.completed.
	res, err := f.reconciler.Reconcile(context.Background(), &billing.VerifiedEvent{
		ID: "evt_early", Type: billing.EventInvoicePaid, Created: t0,
		Payload: billing.InvoicePaymentSucceeded{SubscriptionID: "sub_1", TenantID: f.tenantID},
	})

	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeStale, res.Outcome)
	assert.Equal(t, f.tenantID, res.TenantID)
	assert.Equal(t, domain.NewFreeEntitlement(f.tenantID), f.get(t))
}

func TestReconcile_UnknownAndSubscriptionlessEventsAreIgnored(t *testing.T) {
	f := newFixture(t)

	for _, evt := range []*billing.VerifiedEvent{
		{ID: "evt_u", Type: "customer.created", Created: t0, Payload: billing.UnknownEvent{Type: "customer.created"}},
		{ID: "evt_i", Type: billing.EventInvoicePaid, Created: t0, Payload: billing.InvoicePaymentSucceeded{InvoiceID: "in_oneoff"}},
	} {
		res, err := f.reconciler.Reconcile(context.Background(), evt)
		require.NoError(t, err)
		assert.Equal(t, billing.OutcomeIgnored, res.Outcome)
	}
	assert.Equal(t, 0, f.store.MarkerCount())
}

func TestReconcile_CheckoutWithoutMetadataIsDropped(t *testing.T) {
	f := newFixture(t)

	// No GetSubscription expectation: the processor must not be called.
	res, err := f.reconciler.Reconcile(context.Background(), &billing.VerifiedEvent{
		ID: "evt_nometa", Type: billing.EventCheckoutCompleted, Created: t0,
		Payload: billing.CheckoutCompleted{SessionID: "cs_1", SubscriptionID: "sub_1", Plan: domain.PlanPro},
	})

	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeDropped, res.Outcome)
	assert.Contains(t, res.Reason, "missing checkout metadata")
	assert.Equal(t, domain.NewFreeEntitlement(f.tenantID), f.get(t))
}

func TestReconcile_CheckoutForVanishedSubscriptionIsDropped(t *testing.T) {
	f := newFixture(t)
	f.processor.EXPECT().GetSubscription(gomock.Any(), "sub_1").
		Return(nil, billing.ErrSubscriptionNotFound)

	res, err := f.reconciler.Reconcile(context.Background(), f.checkoutEvent("evt_1"))

	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeDropped, res.Outcome)
}

func TestReconcile_ProcessorFailureIsTransient(t *testing.T) {
	f := newFixture(t)
	f.processor.EXPECT().GetSubscription(gomock.Any(), "sub_1").
		Return(nil, &billing.TransientError{Op: "get subscription", Err: errors.New("timeout")})

	_, err := f.reconciler.Reconcile(context.Background(), f.checkoutEvent("evt_1"))

	require.Error(t, err)
	assert.True(t, billing.IsTransient(err))
	assert.False(t, f.store.HasMarker("evt_1"), "failed event must be admitted again on redelivery")
}

func TestReconcile_StoreFailureRollsBackMarker(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.activate(t)

	flaky := &flakyStore{MemoryStore: f.store, applyErr: errors.New("connection reset")}
	evt := &billing.VerifiedEvent{
		ID: "evt_fail", Type: billing.EventInvoicePaymentFailed, Created: t0.Add(time.Hour),
		Payload: billing.InvoicePaymentFailed{SubscriptionID: "sub_1"},
	}

	_, err := f.newReconciler(flaky).Reconcile(ctx, evt)
	require.Error(t, err)
	assert.True(t, billing.IsTransient(err))
	assert.False(t, f.store.HasMarker("evt_fail"))
	assert.Equal(t, domain.StatusActive, f.get(t).Status)

	// Redelivery after recovery applies.
	res, err := f.reconciler.Reconcile(ctx, evt)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeApplied, res.Outcome)
	assert.Equal(t, domain.StatusPastDue, f.get(t).Status)
}

func TestReconcile_RetriesAfterWriteConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.activate(t)

	flaky := &flakyStore{MemoryStore: f.store, conflicts: 2}
	res, err := f.newReconciler(flaky).Reconcile(ctx, &billing.VerifiedEvent{
		ID: "evt_fail", Type: billing.EventInvoicePaymentFailed, Created: t0.Add(time.Hour),
		Payload: billing.InvoicePaymentFailed{SubscriptionID: "sub_1"},
	})

	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeApplied, res.Outcome)
	assert.Equal(t, 0, flaky.conflicts)
	assert.Equal(t, domain.StatusPastDue, f.get(t).Status)
}

func TestReconcile_GivesUpAfterRepeatedConflicts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.activate(t)

	flaky := &flakyStore{MemoryStore: f.store, conflicts: billing.DefaultMaxAttempts}
	_, err := f.newReconciler(flaky).Reconcile(ctx, &billing.VerifiedEvent{
		ID: "evt_fail", Type: billing.EventInvoicePaymentFailed, Created: t0.Add(time.Hour),
		Payload: billing.InvoicePaymentFailed{SubscriptionID: "sub_1"},
	})

	require.Error(t, err)
	assert.True(t, billing.IsTransient(err))
	assert.False(t, f.store.HasMarker("evt_fail"))
}

func TestReconcile_NotifierFailureDoesNotFailEvent(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("nats: connection closed")

	f.activate(t)

	assert.Len(t, f.notifier.changes, 1)
	assert.Equal(t, domain.PlanPro, f.notifier.changes[0].Plan)
	assert.False(t, f.notifier.changes[0].UpdatedAt.IsZero())
}
