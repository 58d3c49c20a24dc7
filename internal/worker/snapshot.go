package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hyperengineering/tasksync/internal/snapshot"
)

// SnapshotStore defines the store operations needed by the snapshot worker.
type SnapshotStore interface {
	// GenerateSnapshot writes a consistent copy of the database and
	// returns its path.
	GenerateSnapshot(ctx context.Context) (string, error)
}

// SnapshotWorker takes periodic database snapshots and hands each one to
// an uploader.
type SnapshotWorker struct {
	store    SnapshotStore
	uploader snapshot.Uploader
	interval time.Duration
	now      func() time.Time
}

// NewSnapshotWorker creates a worker with the given store, uploader, and interval.
func NewSnapshotWorker(store SnapshotStore, uploader snapshot.Uploader, interval time.Duration) *SnapshotWorker {
	return &SnapshotWorker{
		store:    store,
		uploader: uploader,
		interval: interval,
		now:      time.Now,
	}
}

// Run starts the worker loop. A snapshot is taken immediately on start,
// then on each interval, until ctx is cancelled.
func (w *SnapshotWorker) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "snapshot",
		"interval", w.interval.String(),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "snapshot",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *SnapshotWorker) runOnce(ctx context.Context) {
	start := w.now()

	path, err := w.store.GenerateSnapshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("snapshot generation failed",
			"component", "worker",
			"action", "snapshot_failed",
			"error", err,
		)
		return
	}

	if err := w.uploader.Upload(ctx, path, start); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("snapshot upload failed",
			"component", "worker",
			"action", "snapshot_upload_failed",
			"path", path,
			"error", err,
		)
		return
	}

	slog.Info("snapshot completed",
		"component", "worker",
		"action", "snapshot_complete",
		"path", path,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
