package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/memberhub/internal/telemetry"
)

// DefaultMarkerRetention is how long processed-event markers are kept.
// The processor stops redelivering an event well before this.
const DefaultMarkerRetention = 30 * 24 * time.Hour

// MarkerStore records processed event IDs.
type MarkerStore interface {
	// InsertMarker inserts the event ID if absent and reports whether it did.
	InsertMarker(ctx context.Context, eventID, eventType string) (bool, error)
}

// Admission is the deduplication decision for an event.
type Admission int

const (
	// Admitted means the event has not been processed before.
	Admitted Admission = iota + 1
	// AlreadyProcessed means the event ID has a marker. Not an error.
	AlreadyProcessed
)

func (a Admission) String() string {
	switch a {
	case Admitted:
		return "admitted"
	case AlreadyProcessed:
		return "already_processed"
	default:
		return "unknown"
	}
}

// Admit records eventID and decides whether the event should be processed.
// The insert is atomic, so concurrent deliveries of the same event admit
// exactly one. Called inside the reconciliation transaction, the marker only
// persists if the transition commits.
func Admit(ctx context.Context, markers MarkerStore, eventID, eventType string) (Admission, error) {
	inserted, err := markers.InsertMarker(ctx, eventID, eventType)
	if err != nil {
		return 0, fmt.Errorf("insert marker %s: %w", eventID, err)
	}
	if !inserted {
		return AlreadyProcessed, nil
	}
	return Admitted, nil
}

// Deduplicator owns marker retention.
type Deduplicator struct {
	store     Store
	retention time.Duration
	logger    *slog.Logger
}

// NewDeduplicator creates a Deduplicator. A zero retention uses DefaultMarkerRetention.
func NewDeduplicator(store Store, retention time.Duration, logger *slog.Logger) *Deduplicator {
	if logger == nil {
		logger = slog.Default()
	}
	if retention <= 0 {
		retention = DefaultMarkerRetention
	}
	return &Deduplicator{
		store:     store,
		retention: retention,
		logger:    logger.With("service", "dedup"),
	}
}

// Retention returns the configured retention window.
func (d *Deduplicator) Retention() time.Duration {
	return d.retention
}

// Prune deletes markers older than the retention window measured from now.
func (d *Deduplicator) Prune(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.Add(-d.retention)

	n, err := d.store.DeleteMarkersBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune markers before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	if telemetry.Billing != nil {
		telemetry.Billing.MarkersPruned.Add(float64(n))
	}
	if n > 0 {
		d.logger.Info("pruned processed event markers",
			"deleted", n,
			"cutoff", cutoff)
	}
	return n, nil
}
