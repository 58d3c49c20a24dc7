package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/tasksync/internal/types"
)

const queueColumns = `id, owner_id, target_id, kind, payload, retry_count, last_error,
	operation_timestamp, enqueued_at`

func scanQueued(row rowScanner) (*types.QueuedOperation, error) {
	var (
		op              types.QueuedOperation
		payload         string
		lastError       sql.NullString
		opTS, enqueueTS int64
	)
	err := row.Scan(&op.ID, &op.OwnerID, &op.TargetID, &op.Kind, &payload, &op.RetryCount,
		&lastError, &opTS, &enqueueTS)
	if err != nil {
		return nil, err
	}
	op.Payload = json.RawMessage(payload)
	if lastError.Valid {
		msg := lastError.String
		op.LastError = &msg
	}
	op.OperationTimestamp = fromNanos(opTS)
	op.EnqueuedAt = fromNanos(enqueueTS)
	return &op, nil
}

func payloadText(p json.RawMessage) string {
	if len(p) == 0 {
		return "{}"
	}
	return string(p)
}

// Enqueue appends operations to the queue in a single transaction.
func (s *SQLiteStore) Enqueue(ctx context.Context, ops []types.QueuedOperation) error {
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sync_queue (`+queueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, op := range ops {
		if err := requireOwner(op.OwnerID); err != nil {
			return err
		}
		_, err := stmt.ExecContext(ctx, op.ID, op.OwnerID, op.TargetID, op.Kind, payloadText(op.Payload),
			op.RetryCount, nullableString(op.LastError), toNanos(op.OperationTimestamp), toNanos(op.EnqueuedAt))
		if err != nil {
			return fmt.Errorf("insert queued operation %s: %w", op.ID, err)
		}
	}

	return tx.Commit()
}

// ListQueued returns every pending operation of the owner in replay order:
// grouped by target, then operation timestamp, enqueue time and id.
func (s *SQLiteStore) ListQueued(ctx context.Context, ownerID string) ([]types.QueuedOperation, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return s.queryQueued(ctx, `
		SELECT `+queueColumns+` FROM sync_queue
		WHERE owner_id = ?
		ORDER BY target_id, operation_timestamp, enqueued_at, id`, ownerID)
}

// GetQueuedByIDs re-reads the given operations. Ids that are no longer
// queued are simply absent from the result.
func (s *SQLiteStore) GetQueuedByIDs(ctx context.Context, ownerID string, ids []string) ([]types.QueuedOperation, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []types.QueuedOperation{}, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, ownerID)
	for _, id := range ids {
		args = append(args, id)
	}
	return s.queryQueued(ctx, `
		SELECT `+queueColumns+` FROM sync_queue
		WHERE owner_id = ? AND id IN (`+placeholders(len(ids))+`)
		ORDER BY id`, args...)
}

func (s *SQLiteStore) queryQueued(ctx context.Context, query string, args ...any) ([]types.QueuedOperation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	ops := []types.QueuedOperation{}
	for rows.Next() {
		op, err := scanQueued(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queued operation: %w", err)
		}
		ops = append(ops, *op)
	}
	return ops, rows.Err()
}

// RemoveQueued deletes an applied operation. Removing an operation that is
// already gone is not an error.
func (s *SQLiteStore) RemoveQueued(ctx context.Context, ownerID, id string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE owner_id = ? AND id = ?`, ownerID, id); err != nil {
		return fmt.Errorf("remove queued operation: %w", err)
	}
	return nil
}

// RecordQueueFailure stores the new retry count and error of an operation
// that stays in the queue.
func (s *SQLiteStore) RecordQueueFailure(ctx context.Context, ownerID, id string, retryCount int, lastError string) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue SET retry_count = ?, last_error = ?
		WHERE owner_id = ? AND id = ?`, retryCount, lastError, ownerID, id)
	if err != nil {
		return fmt.Errorf("record queue failure: %w", err)
	}
	return expectOneRow(res)
}

// CountQueued returns the number of pending operations for the owner.
func (s *SQLiteStore) CountQueued(ctx context.Context, ownerID string) (int, error) {
	if err := requireOwner(ownerID); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE owner_id = ?`, ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return n, nil
}

// MoveToDeadLetter inserts the dead letter and removes its queued operation
// atomically, so an operation is never in both places.
func (s *SQLiteStore) MoveToDeadLetter(ctx context.Context, dl *types.DeadLetter) error {
	if err := requireOwner(dl.OwnerID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_dead_letters (id, owner_id, operation_id, target_id, kind, payload,
			retry_count, last_error, operation_timestamp, enqueued_at, moved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dl.ID, dl.OwnerID, dl.OperationID, dl.TargetID, dl.Kind, payloadText(dl.Payload),
		dl.RetryCount, nullableString(dl.LastError), toNanos(dl.OperationTimestamp),
		toNanos(dl.EnqueuedAt), toNanos(dl.MovedAt))
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE owner_id = ? AND id = ?`, dl.OwnerID, dl.OperationID); err != nil {
		return fmt.Errorf("remove queued operation: %w", err)
	}

	return tx.Commit()
}

// ListDeadLetters returns the owner's dead letters, most recent first.
// A limit of zero or less returns all of them.
func (s *SQLiteStore) ListDeadLetters(ctx context.Context, ownerID string, limit int) ([]types.DeadLetter, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	query := `
		SELECT id, owner_id, operation_id, target_id, kind, payload, retry_count, last_error,
		       operation_timestamp, enqueued_at, moved_at
		FROM sync_dead_letters WHERE owner_id = ?
		ORDER BY moved_at DESC, id DESC`
	args := []any{ownerID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	out := []types.DeadLetter{}
	for rows.Next() {
		var (
			dl                    types.DeadLetter
			payload               string
			lastError             sql.NullString
			opTS, enqueued, moved int64
		)
		if err := rows.Scan(&dl.ID, &dl.OwnerID, &dl.OperationID, &dl.TargetID, &dl.Kind, &payload,
			&dl.RetryCount, &lastError, &opTS, &enqueued, &moved); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		dl.Payload = json.RawMessage(payload)
		if lastError.Valid {
			msg := lastError.String
			dl.LastError = &msg
		}
		dl.OperationTimestamp = fromNanos(opTS)
		dl.EnqueuedAt = fromNanos(enqueued)
		dl.MovedAt = fromNanos(moved)
		out = append(out, dl)
	}
	return out, rows.Err()
}

// GetMapping returns the server id allocated for a client-local id.
// Returns ErrNotFound if none was recorded.
func (s *SQLiteStore) GetMapping(ctx context.Context, ownerID, localID string) (string, error) {
	if err := requireOwner(ownerID); err != nil {
		return "", err
	}
	var serverID string
	err := s.db.QueryRowContext(ctx,
		`SELECT server_id FROM id_mappings WHERE owner_id = ? AND local_id = ?`,
		ownerID, localID).Scan(&serverID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get mapping: %w", err)
	}
	return serverID, nil
}

// saveMapping records a local to server id mapping. The first mapping for a
// local id is kept.
func saveMapping(ctx context.Context, db execer, ownerID string, m types.IDMapping) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO id_mappings (owner_id, local_id, server_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (owner_id, local_id) DO NOTHING`,
		ownerID, m.LocalID, m.ServerID, toNanos(time.Now()))
	if err != nil {
		return fmt.Errorf("save mapping: %w", err)
	}
	return nil
}
