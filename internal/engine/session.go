package engine

import (
	"context"
	"fmt"

	"github.com/hyperengineering/tasksync/internal/types"
)

// sessionStatus derives the overall status of an invocation. Any failure
// makes it an error; an early stop without failures makes it partial.
func sessionStatus(failed int, stoppedEarly bool) types.SessionStatus {
	switch {
	case failed > 0:
		return types.SessionError
	case stoppedEarly:
		return types.SessionPartial
	default:
		return types.SessionCompleted
	}
}

// recordSession appends the session summary. It is written even when the
// caller has gone away.
func (e *Engine) recordSession(ctx context.Context, owner, id string, total int, run *drainRun) (*types.SyncSession, error) {
	session := &types.SyncSession{
		ID:        id,
		OwnerID:   owner,
		Total:     total,
		Processed: run.processed,
		Failed:    run.failed,
		Status:    sessionStatus(run.failed, run.stoppedEarly),
		CreatedAt: e.now(),
	}

	sctx, cancel := e.detachedCtx(ctx)
	defer cancel()
	if err := e.store.InsertSession(sctx, session); err != nil {
		return nil, fmt.Errorf("record session: %w", err)
	}
	return session, nil
}

// GetStatus reports queue depth and recent sessions for an owner. It does
// not take the owner lock.
func (e *Engine) GetStatus(ctx context.Context, owner string) (*types.SyncStatusReport, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	pending, err := e.store.CountQueued(sctx, owner)
	if err != nil {
		return nil, fmt.Errorf("count queue: %w", err)
	}
	sessions, err := e.store.ListSessions(sctx, owner, e.opts.SessionHistory)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	report := &types.SyncStatusReport{
		PendingCount:   pending,
		RecentSessions: sessions,
	}
	if len(sessions) > 0 {
		last := sessions[0].CreatedAt
		report.LastSessionTimestamp = &last
		report.LastSessionStatus = sessions[0].Status
	}
	return report, nil
}

// ListSessions returns up to limit recent sessions, most recent first.
func (e *Engine) ListSessions(ctx context.Context, owner string, limit int) ([]types.SyncSession, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.store.ListSessions(sctx, owner, limit)
}

// ListDeadLetters returns up to limit dead-lettered operations.
func (e *Engine) ListDeadLetters(ctx context.Context, owner string, limit int) ([]types.DeadLetter, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.store.ListDeadLetters(sctx, owner, limit)
}

// ListConflicts returns up to limit recorded conflicts.
func (e *Engine) ListConflicts(ctx context.Context, owner string, limit int) ([]types.ConflictEntry, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	return e.store.ListConflicts(sctx, owner, limit)
}
