package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/tasksync/internal/types"
)

const taskColumns = `id, owner_id, title, description, completed, is_deleted, sync_status,
	server_id, last_operation, created_at, updated_at, last_synced_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*types.Task, error) {
	var (
		t                    types.Task
		completed, deleted   int
		serverID             sql.NullString
		createdAt, updatedAt int64
		lastSynced           sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Description, &completed, &deleted,
		&t.SyncStatus, &serverID, &t.LastOperation, &createdAt, &updatedAt, &lastSynced)
	if err != nil {
		return nil, err
	}
	t.Completed = completed != 0
	t.IsDeleted = deleted != 0
	t.ServerID = serverID.String
	t.CreatedAt = fromNanos(createdAt)
	t.UpdatedAt = fromNanos(updatedAt)
	if lastSynced.Valid {
		ts := fromNanos(lastSynced.Int64)
		t.LastSyncedAt = &ts
	}
	return &t, nil
}

// GetTask returns the task with the given id, including soft-deleted tasks.
// Returns ErrNotFound if the owner has no such task.
func (s *SQLiteStore) GetTask(ctx context.Context, ownerID, id string) (*types.Task, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE owner_id = ? AND id = ?`, ownerID, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTask(ctx context.Context, db execer, t *types.Task) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwnerID, t.Title, t.Description, boolToInt(t.Completed), boolToInt(t.IsDeleted),
		t.SyncStatus, nullIfEmpty(t.ServerID), t.LastOperation, toNanos(t.CreatedAt),
		toNanos(t.UpdatedAt), nullableNanos(t.LastSyncedAt))
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// InsertTaskWithMapping stores a new task and the mapping from the client's
// local id to it in one transaction, so a created task is never left
// without its mapping.
func (s *SQLiteStore) InsertTaskWithMapping(ctx context.Context, t *types.Task, m types.IDMapping) error {
	if err := requireOwner(t.OwnerID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertTask(ctx, tx, t); err != nil {
		return err
	}
	if err := saveMapping(ctx, tx, t.OwnerID, m); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateTask overwrites every mutable column of an existing task.
// Returns ErrNotFound if the owner has no such task.
func (s *SQLiteStore) UpdateTask(ctx context.Context, t *types.Task) error {
	if err := requireOwner(t.OwnerID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET title = ?, description = ?, completed = ?, is_deleted = ?, sync_status = ?,
		    server_id = ?, last_operation = ?, updated_at = ?, last_synced_at = ?
		WHERE owner_id = ? AND id = ?`,
		t.Title, t.Description, boolToInt(t.Completed), boolToInt(t.IsDeleted), t.SyncStatus,
		nullIfEmpty(t.ServerID), t.LastOperation, toNanos(t.UpdatedAt), nullableNanos(t.LastSyncedAt),
		t.OwnerID, t.ID)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return expectOneRow(res)
}

// SetSyncStatus changes only the sync status of a task.
// Returns ErrNotFound if the owner has no such task.
func (s *SQLiteStore) SetSyncStatus(ctx context.Context, ownerID, id string, status types.SyncStatus) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET sync_status = ? WHERE owner_id = ? AND id = ?`, status, ownerID, id)
	if err != nil {
		return fmt.Errorf("set sync status: %w", err)
	}
	return expectOneRow(res)
}

// ListTasks returns the owner's tasks ordered by creation time.
func (s *SQLiteStore) ListTasks(ctx context.Context, ownerID string, includeDeleted bool) ([]types.Task, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE owner_id = ?`
	if !includeDeleted {
		query += ` AND is_deleted = 0`
	}
	query += ` ORDER BY created_at, id`
	return s.queryTasks(ctx, query, ownerID)
}

// ListTasksUpdatedSince returns tasks, deleted ones included, whose
// updated_at is strictly after since.
func (s *SQLiteStore) ListTasksUpdatedSince(ctx context.Context, ownerID string, since time.Time) ([]types.Task, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE owner_id = ? AND updated_at > ?
		ORDER BY updated_at, id`, ownerID, toNanos(since))
}

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]types.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []types.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
