package worker

import (
	"context"
	"log/slog"
	"time"
)

// MaintenanceStore defines the store operations needed by the maintenance worker.
type MaintenanceStore interface {
	CleanExpiredIdempotency(ctx context.Context) (int64, error)
}

// MaintenanceWorker periodically purges expired idempotency records.
type MaintenanceWorker struct {
	store    MaintenanceStore
	interval time.Duration
}

// NewMaintenanceWorker creates a worker with the given store and interval.
func NewMaintenanceWorker(store MaintenanceStore, interval time.Duration) *MaintenanceWorker {
	return &MaintenanceWorker{
		store:    store,
		interval: interval,
	}
}

// Run starts the worker loop. Blocks until ctx is cancelled.
// Does not run on start; expired keys are harmless until the next tick.
func (w *MaintenanceWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "maintenance",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "maintenance",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *MaintenanceWorker) runOnce(ctx context.Context) {
	start := time.Now()

	removed, err := w.store.CleanExpiredIdempotency(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("idempotency cleanup failed",
			"component", "worker",
			"action", "maintenance_failed",
			"error", err,
		)
		return
	}

	slog.Info("maintenance cycle completed",
		"component", "worker",
		"action", "maintenance_complete",
		"idempotency_removed", removed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
