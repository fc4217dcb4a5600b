// Package worker runs periodic maintenance for the billing core.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/memberhub/internal/telemetry"
)

// Pruner deletes processed-event markers past their retention window.
type Pruner interface {
	Prune(ctx context.Context, now time.Time) (int64, error)
}

// Config holds worker configuration
type Config struct {
	// WorkerID uniquely identifies this worker instance in logs
	WorkerID string

	// Interval is how often markers are pruned
	Interval time.Duration

	// RunOnStart prunes once before the first tick
	RunOnStart bool
}

// Worker prunes processed-event markers on a fixed interval. Several
// instances may run at once: the delete is idempotent.
type Worker struct {
	config Config
	pruner Pruner
	logger *slog.Logger
	now    func() time.Time
}

// NewWorker creates a new marker pruning worker
func NewWorker(pruner Pruner, config Config, logger *slog.Logger) *Worker {
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		config: config,
		pruner: pruner,
		logger: logger.With("worker_id", config.WorkerID),
		now:    time.Now,
	}
}

// Start prunes until the context is cancelled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker starting", "interval", w.config.Interval)

	if w.config.RunOnStart {
		w.RunOnce(ctx)
	}

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down")
			return ctx.Err()

		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce prunes once. Failures are logged and retried on the next tick.
func (w *Worker) RunOnce(ctx context.Context) {
	start := w.now()
	deleted, err := w.pruner.Prune(ctx, start)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.logger.Error("marker pruning failed", "error", err)
		telemetry.CaptureError(err, map[string]interface{}{"worker_id": w.config.WorkerID})
		return
	}

	w.logger.Debug("marker pruning completed",
		"deleted", deleted,
		"duration_ms", time.Since(start).Milliseconds())
}
