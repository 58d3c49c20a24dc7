package engine

import (
	"context"
	"log/slog"

	"github.com/hyperengineering/tasksync/internal/types"
	"github.com/oklog/ulid/v2"
)

// handleFailure charges a failed apply against the operation's retry
// budget. At the ceiling the operation is dead-lettered and its record
// marked failed; below it the operation stays queued and its record is
// marked error. Bookkeeping runs on a detached context so a cancelled
// caller cannot lose the charge.
func (e *Engine) handleFailure(ctx context.Context, op types.QueuedOperation, applyErr error) {
	dctx, cancel := e.detachedCtx(ctx)
	defer cancel()

	retries := op.RetryCount + 1
	msg := applyErr.Error()
	status := types.SyncStatusError

	if retries >= e.opts.MaxRetries {
		status = types.SyncStatusFailed
		dl := &types.DeadLetter{
			ID:                 ulid.Make().String(),
			OwnerID:            op.OwnerID,
			OperationID:        op.ID,
			TargetID:           op.TargetID,
			Kind:               op.Kind,
			Payload:            op.Payload,
			RetryCount:         retries,
			LastError:          &msg,
			OperationTimestamp: op.OperationTimestamp,
			EnqueuedAt:         op.EnqueuedAt,
			MovedAt:            e.now(),
		}
		if err := e.store.MoveToDeadLetter(dctx, dl); err != nil {
			slog.Error("dead-letter move failed",
				"component", "engine",
				"action", "dead_letter",
				"owner_id", op.OwnerID,
				"operation_id", op.ID,
				"error", err,
			)
			return
		}
		slog.Warn("operation dead-lettered",
			"component", "engine",
			"action", "dead_letter",
			"owner_id", op.OwnerID,
			"operation_id", op.ID,
			"target_id", op.TargetID,
			"retry_count", retries,
			"error", msg,
		)
	} else {
		if err := e.store.RecordQueueFailure(dctx, op.OwnerID, op.ID, retries, msg); err != nil {
			slog.Error("record retry failed",
				"component", "engine",
				"action", "retry",
				"owner_id", op.OwnerID,
				"operation_id", op.ID,
				"error", err,
			)
			return
		}
		slog.Warn("operation failed, will retry",
			"component", "engine",
			"action", "retry",
			"owner_id", op.OwnerID,
			"operation_id", op.ID,
			"retry_count", retries,
			"error", msg,
		)
	}

	task, err := e.resolveTarget(dctx, op.OwnerID, op.TargetID)
	if err != nil || task == nil {
		return
	}
	e.setStatus(dctx, op.OwnerID, task.ID, status)
}
