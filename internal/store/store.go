package store

import (
	"context"
	"time"

	"github.com/hyperengineering/tasksync/internal/types"
)

// Store defines the interface contract for all task and sync storage.
// Every method is scoped to a single owner; no method reads or writes
// another owner's rows.
type Store interface {
	// Tasks
	GetTask(ctx context.Context, ownerID, id string) (*types.Task, error)
	InsertTaskWithMapping(ctx context.Context, task *types.Task, m types.IDMapping) error
	UpdateTask(ctx context.Context, task *types.Task) error
	SetSyncStatus(ctx context.Context, ownerID, id string, status types.SyncStatus) error
	ListTasks(ctx context.Context, ownerID string, includeDeleted bool) ([]types.Task, error)
	ListTasksUpdatedSince(ctx context.Context, ownerID string, since time.Time) ([]types.Task, error)

	// Operation queue
	Enqueue(ctx context.Context, ops []types.QueuedOperation) error
	ListQueued(ctx context.Context, ownerID string) ([]types.QueuedOperation, error)
	GetQueuedByIDs(ctx context.Context, ownerID string, ids []string) ([]types.QueuedOperation, error)
	RemoveQueued(ctx context.Context, ownerID, id string) error
	RecordQueueFailure(ctx context.Context, ownerID, id string, retryCount int, lastError string) error
	CountQueued(ctx context.Context, ownerID string) (int, error)

	// Dead letters
	MoveToDeadLetter(ctx context.Context, dl *types.DeadLetter) error
	ListDeadLetters(ctx context.Context, ownerID string, limit int) ([]types.DeadLetter, error)

	// Id mappings
	GetMapping(ctx context.Context, ownerID, localID string) (string, error)

	// Sessions and conflicts
	InsertSession(ctx context.Context, s *types.SyncSession) error
	ListSessions(ctx context.Context, ownerID string, limit int) ([]types.SyncSession, error)
	InsertConflict(ctx context.Context, c *types.ConflictEntry) error
	ListConflicts(ctx context.Context, ownerID string, limit int) ([]types.ConflictEntry, error)

	// Idempotency
	CheckSyncIdempotency(ctx context.Context, ownerID, syncID string) ([]byte, bool, error)
	RecordSyncIdempotency(ctx context.Context, ownerID, syncID string, response []byte, ttl time.Duration) error
	CleanExpiredIdempotency(ctx context.Context) (int64, error)

	// Maintenance
	GenerateSnapshot(ctx context.Context) (string, error)
	Ping(ctx context.Context) error
	Close() error
}
