// Package engine drives offline-change synchronization: it queues client
// changes, drains them per owner in chronological order through integrity
// checked batches, resolves conflicts with last-write-wins and records the
// outcome of every invocation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hyperengineering/tasksync/internal/store"
	syncpkg "github.com/hyperengineering/tasksync/internal/sync"
	"github.com/hyperengineering/tasksync/internal/types"
	"github.com/hyperengineering/tasksync/internal/validation"
	"github.com/oklog/ulid/v2"
)

// ErrOwnerRequired is returned when an operation is called without an owner.
var ErrOwnerRequired = errors.New("owner id is required")

// ValidationErrors rejects a submission before anything is queued.
type ValidationErrors struct {
	Errors []validation.ValidationError
}

func (v *ValidationErrors) Error() string {
	parts := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return "invalid changes: " + strings.Join(parts, "; ")
}

// Options configures an Engine. Zero values fall back to the defaults.
type Options struct {
	BatchSize      int
	MaxRetries     int
	StoreTimeout   time.Duration
	SessionHistory int
}

const (
	defaultStoreTimeout   = 5 * time.Second
	defaultSessionHistory = 10
)

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = syncpkg.DefaultBatchSize
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = syncpkg.DefaultMaxRetries
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = defaultStoreTimeout
	}
	if o.SessionHistory <= 0 {
		o.SessionHistory = defaultSessionHistory
	}
	return o
}

// Engine is the sync engine. It is safe for concurrent use; invocations for
// the same owner are serialized.
type Engine struct {
	store store.Store
	opts  Options
	locks *ownerLocks
	now   func() time.Time
}

// New creates an Engine over the given store.
func New(s store.Store, opts Options) *Engine {
	return &Engine{
		store: s,
		opts:  opts.withDefaults(),
		locks: newOwnerLocks(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// storeCtx bounds a single store access.
func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.StoreTimeout)
}

// detachedCtx outlives caller cancellation for writes that must land.
func (e *Engine) detachedCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.opts.StoreTimeout)
}

func validateChanges(changes []types.ClientChange) error {
	if errs := validation.ValidateChanges(changes); len(errs) > 0 {
		return &ValidationErrors{Errors: errs}
	}
	return nil
}

// Enqueue validates and appends changes to the owner's queue without
// draining it.
func (e *Engine) Enqueue(ctx context.Context, owner string, changes []types.ClientChange) ([]types.QueuedOperation, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	if err := validateChanges(changes); err != nil {
		return nil, err
	}

	release, err := e.locks.acquire(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("acquire owner lock: %w", err)
	}
	defer release()

	return e.enqueueLocked(ctx, owner, changes)
}

func (e *Engine) enqueueLocked(ctx context.Context, owner string, changes []types.ClientChange) ([]types.QueuedOperation, error) {
	if len(changes) == 0 {
		return []types.QueuedOperation{}, nil
	}

	now := e.now()
	ops := make([]types.QueuedOperation, 0, len(changes))
	for _, c := range changes {
		ts := now
		if c.OperationTimestamp != nil {
			ts = c.OperationTimestamp.UTC()
		}
		ops = append(ops, types.QueuedOperation{
			ID:                 ulid.Make().String(),
			OwnerID:            owner,
			TargetID:           c.TargetID(),
			Kind:               c.Kind,
			Payload:            c.Payload,
			OperationTimestamp: ts,
			EnqueuedAt:         now,
		})
	}

	sctx, cancel := e.storeCtx(ctx)
	err := e.store.Enqueue(sctx, ops)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}

	for _, op := range ops {
		e.markPending(ctx, owner, op.TargetID)
	}

	slog.Info("operations enqueued",
		"component", "engine",
		"action", "enqueue",
		"owner_id", owner,
		"count", len(ops),
	)
	return ops, nil
}

// markPending flags an existing record as having unsynced local changes.
// Records that do not exist yet are left alone.
func (e *Engine) markPending(ctx context.Context, owner, targetID string) {
	task, err := e.resolveTarget(ctx, owner, targetID)
	if err != nil || task == nil {
		if err != nil {
			slog.Warn("mark pending failed",
				"component", "engine",
				"action", "mark_pending",
				"owner_id", owner,
				"target_id", targetID,
				"error", err,
			)
		}
		return
	}
	e.setStatus(ctx, owner, task.ID, types.SyncStatusPending)
}

// setStatus updates a record's sync status, logging instead of failing.
func (e *Engine) setStatus(ctx context.Context, owner, id string, status types.SyncStatus) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.store.SetSyncStatus(sctx, owner, id, status); err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Warn("set sync status failed",
			"component", "engine",
			"action", "set_status",
			"owner_id", owner,
			"task_id", id,
			"status", status,
			"error", err,
		)
	}
}

// resolveTarget finds the record an operation addresses, either directly or
// through a stored local id mapping. It returns nil, nil when there is none.
func (e *Engine) resolveTarget(ctx context.Context, owner, targetID string) (*types.Task, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	task, err := e.store.GetTask(sctx, owner, targetID)
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	serverID, err := e.store.GetMapping(sctx, owner, targetID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	task, err = e.store.GetTask(sctx, owner, serverID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return task, err
}

// SubmitSync queues the given changes and drains the owner's whole queue,
// returning id mappings, conflicts and the records changed since
// req.LastSyncedAt.
func (e *Engine) SubmitSync(ctx context.Context, owner string, req types.SyncRequest) (*types.SyncResult, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	if err := validateChanges(req.Changes); err != nil {
		return nil, err
	}

	release, err := e.locks.acquire(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("acquire owner lock: %w", err)
	}
	defer release()

	if _, err := e.enqueueLocked(ctx, owner, req.Changes); err != nil {
		return nil, err
	}

	sctx, cancel := e.storeCtx(ctx)
	ops, err := e.store.ListQueued(sctx, owner)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}

	sessionID := ulid.Make().String()
	run := e.drain(ctx, owner, sessionID, ops)

	session, err := e.recordSession(ctx, owner, sessionID, len(ops), run)
	if err != nil {
		return nil, err
	}

	changes, err := e.serverChanges(ctx, owner, req.LastSyncedAt)
	if err != nil {
		return nil, err
	}

	slog.Info("sync completed",
		"component", "engine",
		"action", "sync",
		"owner_id", owner,
		"session_id", session.ID,
		"status", session.Status,
		"total", session.Total,
		"processed", session.Processed,
		"failed", session.Failed,
		"conflicts", len(run.conflicts),
	)

	return &types.SyncResult{
		SessionID:     session.ID,
		Status:        session.Status,
		Processed:     session.Processed,
		Failed:        session.Failed,
		Mappings:      run.mappings,
		Conflicts:     run.conflicts,
		ServerChanges: changes,
	}, nil
}

func (e *Engine) serverChanges(ctx context.Context, owner string, since *time.Time) ([]types.Task, error) {
	sctx, cancel := e.detachedCtx(ctx)
	defer cancel()

	var (
		tasks []types.Task
		err   error
	)
	if since == nil {
		tasks, err = e.store.ListTasks(sctx, owner, true)
	} else {
		tasks, err = e.store.ListTasksUpdatedSince(sctx, owner, *since)
	}
	if err != nil {
		return nil, fmt.Errorf("read server changes: %w", err)
	}
	return tasks, nil
}

// drainRun accumulates the outcome of one drain.
type drainRun struct {
	processed    int
	failed       int
	stoppedEarly bool
	mappings     []types.IDMapping
	conflicts    []types.Conflict
}

// drain processes the ordered queue batch by batch. Per-operation failures
// are charged and recorded; they never stop the drain.
func (e *Engine) drain(ctx context.Context, owner, sessionID string, ops []types.QueuedOperation) *drainRun {
	run := &drainRun{
		mappings:  []types.IDMapping{},
		conflicts: []types.Conflict{},
	}
	mapped := make(map[string]bool)

	if !syncpkg.IsOrdered(ops) {
		syncpkg.SortOperations(ops)
	}
	batches, err := syncpkg.Assemble(ops, e.opts.BatchSize)
	if err != nil {
		slog.Error("batch assembly failed",
			"component", "engine",
			"action", "assemble",
			"owner_id", owner,
			"error", err,
		)
		run.failed = len(ops)
		return run
	}

	for _, b := range batches {
		if ctx.Err() != nil {
			run.stoppedEarly = true
			return run
		}

		if err := e.verifyBatch(ctx, owner, b); err != nil {
			slog.Warn("batch rejected",
				"component", "engine",
				"action", "verify_batch",
				"owner_id", owner,
				"batch", b.Index,
				"fingerprint", b.Fingerprint.String(),
				"error", err,
			)
			run.failed += len(b.Operations)
			continue
		}

		for _, op := range b.Operations {
			if ctx.Err() != nil {
				run.stoppedEarly = true
				return run
			}

			out, err := e.apply(ctx, op)
			if err != nil {
				if ctx.Err() != nil {
					// interrupted, not a fault of the operation
					run.stoppedEarly = true
					return run
				}
				e.handleFailure(ctx, op, err)
				run.failed++
				continue
			}

			e.removeApplied(ctx, op)
			run.processed++
			if out.mapping != nil && !mapped[out.mapping.LocalID] {
				mapped[out.mapping.LocalID] = true
				run.mappings = append(run.mappings, *out.mapping)
			}
			if out.conflict != nil {
				run.conflicts = append(run.conflicts, *out.conflict)
				e.recordConflict(ctx, sessionID, op, out)
			}
		}
	}
	return run
}

// verifyBatch re-reads the batch members and checks them against the
// fingerprint taken at assembly.
func (e *Engine) verifyBatch(ctx context.Context, owner string, b syncpkg.Batch) error {
	sctx, cancel := e.storeCtx(ctx)
	current, err := e.store.GetQueuedByIDs(sctx, owner, b.IDs())
	cancel()
	if err != nil {
		return fmt.Errorf("re-read batch: %w", err)
	}
	return b.Verify(current)
}

func (e *Engine) removeApplied(ctx context.Context, op types.QueuedOperation) {
	sctx, cancel := e.detachedCtx(ctx)
	defer cancel()
	if err := e.store.RemoveQueued(sctx, op.OwnerID, op.ID); err != nil {
		// the write already landed; replaying it resolves as a full tie
		slog.Error("remove applied operation failed",
			"component", "engine",
			"action", "remove_queued",
			"owner_id", op.OwnerID,
			"operation_id", op.ID,
			"error", err,
		)
	}
}

func (e *Engine) recordConflict(ctx context.Context, sessionID string, op types.QueuedOperation, out *outcome) {
	entry := &types.ConflictEntry{
		ID:              ulid.Make().String(),
		OwnerID:         op.OwnerID,
		SessionID:       sessionID,
		OperationID:     op.ID,
		LocalID:         op.TargetID,
		TargetID:        out.conflict.ServerRecord.ID,
		Kind:            op.Kind,
		LocalTimestamp:  op.OperationTimestamp,
		ServerTimestamp: out.conflict.ServerRecord.UpdatedAt,
		ServerSnapshot:  out.conflict.ServerRecord,
		CreatedAt:       e.now(),
	}

	slog.Info("conflict resolved for server",
		"component", "engine",
		"action", "conflict",
		"owner_id", op.OwnerID,
		"operation_id", op.ID,
		"target_id", entry.TargetID,
		"kind", op.Kind,
	)

	sctx, cancel := e.detachedCtx(ctx)
	defer cancel()
	if err := e.store.InsertConflict(sctx, entry); err != nil {
		slog.Warn("record conflict failed",
			"component", "engine",
			"action", "conflict",
			"owner_id", op.OwnerID,
			"operation_id", op.ID,
			"error", err,
		)
	}
}
