package engine

import (
	"context"
	"fmt"

	syncpkg "github.com/hyperengineering/tasksync/internal/sync"
	"github.com/hyperengineering/tasksync/internal/types"
	"github.com/oklog/ulid/v2"
)

// outcome is the result of applying one operation. At most one of mapping
// and conflict is set.
type outcome struct {
	mapping  *types.IDMapping
	conflict *types.Conflict
	task     *types.Task
}

// apply executes one queued operation against the record store. It never
// touches the queue.
func (e *Engine) apply(ctx context.Context, op types.QueuedOperation) (*outcome, error) {
	patch, err := types.ParsePatch(op.Payload)
	if err != nil {
		return nil, err
	}

	current, err := e.resolveTarget(ctx, op.OwnerID, op.TargetID)
	if err != nil {
		return nil, fmt.Errorf("read target: %w", err)
	}

	if current == nil {
		switch op.Kind {
		case types.OperationDelete:
			// nothing to delete
			return &outcome{}, nil
		case types.OperationCreate, types.OperationUpdate:
			return e.applyCreate(ctx, op, patch)
		default:
			return nil, fmt.Errorf("unknown operation kind %q", op.Kind)
		}
	}

	e.setStatus(ctx, op.OwnerID, current.ID, types.SyncStatusInProgress)

	local := syncpkg.Side{Timestamp: op.OperationTimestamp, Kind: op.Kind}
	server := syncpkg.Side{Timestamp: current.UpdatedAt, Kind: current.LastOperation}
	if syncpkg.Resolve(local, server) == syncpkg.WinnerServer {
		e.setStatus(ctx, op.OwnerID, current.ID, types.SyncStatusSynced)
		snapshot := *current
		snapshot.SyncStatus = types.SyncStatusSynced
		return &outcome{
			conflict: &types.Conflict{
				LocalID:      op.TargetID,
				OperationID:  op.ID,
				Kind:         op.Kind,
				ServerRecord: snapshot,
			},
			task: &snapshot,
		}, nil
	}

	return e.applyMerge(ctx, op, patch, current)
}

// applyCreate writes a new record under a freshly allocated id and records
// the mapping from the client's id.
func (e *Engine) applyCreate(ctx context.Context, op types.QueuedOperation, patch types.TaskPatch) (*outcome, error) {
	now := e.now()
	id := ulid.Make().String()
	task := &types.Task{
		ID:            id,
		OwnerID:       op.OwnerID,
		SyncStatus:    types.SyncStatusSynced,
		ServerID:      id,
		LastOperation: types.OperationCreate,
		CreatedAt:     op.OperationTimestamp,
		UpdatedAt:     op.OperationTimestamp,
		LastSyncedAt:  &now,
	}
	patch.ApplyTo(task)

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	mapping := types.IDMapping{LocalID: op.TargetID, ServerID: id}
	if err := e.store.InsertTaskWithMapping(sctx, task, mapping); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	return &outcome{mapping: &mapping, task: task}, nil
}

// applyMerge overwrites the fields present in the patch. A delete only
// sets the tombstone.
func (e *Engine) applyMerge(ctx context.Context, op types.QueuedOperation, patch types.TaskPatch, current *types.Task) (*outcome, error) {
	now := e.now()
	task := *current
	if op.Kind == types.OperationDelete {
		task.IsDeleted = true
	} else {
		patch.ApplyTo(&task)
	}
	task.UpdatedAt = op.OperationTimestamp
	task.SyncStatus = types.SyncStatusSynced
	task.LastSyncedAt = &now
	task.LastOperation = op.Kind
	if task.ServerID == "" {
		task.ServerID = task.ID
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.store.UpdateTask(sctx, &task); err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	out := &outcome{task: &task}
	if op.TargetID != task.ID {
		// replayed create or follow-up addressed by local id
		out.mapping = &types.IDMapping{LocalID: op.TargetID, ServerID: task.ID}
	}
	return out, nil
}
