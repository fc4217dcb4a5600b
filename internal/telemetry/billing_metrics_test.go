package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBillingMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBillingMetrics("test", reg)
	require.NotNil(t, m)

	m.WebhookOutcomes.WithLabelValues("invoice.payment_failed", "applied").Inc()
	m.WebhookOutcomes.WithLabelValues("invoice.payment_failed", "applied").Inc()
	m.TransitionConflicts.Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.WebhookOutcomes.WithLabelValues("invoice.payment_failed", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransitionConflicts))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["test_billing_webhook_outcomes_total"])
	assert.True(t, names["test_billing_transition_conflicts_total"])
}

func TestNewBillingMetrics_DefaultNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBillingMetrics("", reg)
	m.MarkersPruned.Add(3)

	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "memberhub_billing_dedup_markers_pruned_total" {
			found = true
			assert.Equal(t, 3.0, f.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found, "pruned counter should be registered under the default namespace")
}
