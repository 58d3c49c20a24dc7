package store

import (
	"context"
	"time"

	"github.com/hyperengineering/tasksync/internal/types"
)

// mockStore is a compile-time check that the Store interface can be implemented.
type mockStore struct{}

var _ Store = (*mockStore)(nil)

func (m *mockStore) GetTask(ctx context.Context, ownerID, id string) (*types.Task, error) {
	return nil, ErrNotFound
}
func (m *mockStore) InsertTaskWithMapping(ctx context.Context, task *types.Task, mp types.IDMapping) error {
	return nil
}
func (m *mockStore) UpdateTask(ctx context.Context, task *types.Task) error { return nil }
func (m *mockStore) SetSyncStatus(ctx context.Context, ownerID, id string, status types.SyncStatus) error {
	return nil
}
func (m *mockStore) ListTasks(ctx context.Context, ownerID string, includeDeleted bool) ([]types.Task, error) {
	return nil, nil
}
func (m *mockStore) ListTasksUpdatedSince(ctx context.Context, ownerID string, since time.Time) ([]types.Task, error) {
	return nil, nil
}
func (m *mockStore) Enqueue(ctx context.Context, ops []types.QueuedOperation) error { return nil }
func (m *mockStore) ListQueued(ctx context.Context, ownerID string) ([]types.QueuedOperation, error) {
	return nil, nil
}
func (m *mockStore) GetQueuedByIDs(ctx context.Context, ownerID string, ids []string) ([]types.QueuedOperation, error) {
	return nil, nil
}
func (m *mockStore) RemoveQueued(ctx context.Context, ownerID, id string) error { return nil }
func (m *mockStore) RecordQueueFailure(ctx context.Context, ownerID, id string, retryCount int, lastError string) error {
	return nil
}
func (m *mockStore) CountQueued(ctx context.Context, ownerID string) (int, error) { return 0, nil }
func (m *mockStore) MoveToDeadLetter(ctx context.Context, dl *types.DeadLetter) error {
	return nil
}
func (m *mockStore) ListDeadLetters(ctx context.Context, ownerID string, limit int) ([]types.DeadLetter, error) {
	return nil, nil
}
func (m *mockStore) GetMapping(ctx context.Context, ownerID, localID string) (string, error) {
	return "", ErrNotFound
}
func (m *mockStore) InsertSession(ctx context.Context, s *types.SyncSession) error { return nil }
func (m *mockStore) ListSessions(ctx context.Context, ownerID string, limit int) ([]types.SyncSession, error) {
	return nil, nil
}
func (m *mockStore) InsertConflict(ctx context.Context, c *types.ConflictEntry) error { return nil }
func (m *mockStore) ListConflicts(ctx context.Context, ownerID string, limit int) ([]types.ConflictEntry, error) {
	return nil, nil
}
func (m *mockStore) CheckSyncIdempotency(ctx context.Context, ownerID, syncID string) ([]byte, bool, error) {
	return nil, false, nil
}
func (m *mockStore) RecordSyncIdempotency(ctx context.Context, ownerID, syncID string, response []byte, ttl time.Duration) error {
	return nil
}
func (m *mockStore) CleanExpiredIdempotency(ctx context.Context) (int64, error) { return 0, nil }
func (m *mockStore) GenerateSnapshot(ctx context.Context) (string, error)       { return "", nil }
func (m *mockStore) Ping(ctx context.Context) error                             { return nil }
func (m *mockStore) Close() error                                               { return nil }
