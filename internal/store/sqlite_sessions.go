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

// InsertSession appends a session record.
func (s *SQLiteStore) InsertSession(ctx context.Context, sess *types.SyncSession) error {
	if err := requireOwner(sess.OwnerID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_sessions (id, owner_id, total, processed, failed, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.OwnerID, sess.Total, sess.Processed, sess.Failed, sess.Status, toNanos(sess.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// ListSessions returns the owner's sessions, most recent first.
// A limit of zero or less returns all of them.
func (s *SQLiteStore) ListSessions(ctx context.Context, ownerID string, limit int) ([]types.SyncSession, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	query := `
		SELECT id, owner_id, total, processed, failed, status, created_at
		FROM sync_sessions WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC`
	args := []any{ownerID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	out := []types.SyncSession{}
	for rows.Next() {
		var (
			sess      types.SyncSession
			createdAt int64
		)
		if err := rows.Scan(&sess.ID, &sess.OwnerID, &sess.Total, &sess.Processed, &sess.Failed,
			&sess.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.CreatedAt = fromNanos(createdAt)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// InsertConflict records a conflict report for later audit.
func (s *SQLiteStore) InsertConflict(ctx context.Context, c *types.ConflictEntry) error {
	if err := requireOwner(c.OwnerID); err != nil {
		return err
	}
	snapshot, err := json.Marshal(c.ServerSnapshot)
	if err != nil {
		return fmt.Errorf("marshal server snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_conflicts (id, owner_id, session_id, operation_id, local_id, target_id, kind,
			local_timestamp, server_timestamp, server_snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OwnerID, c.SessionID, c.OperationID, c.LocalID, c.TargetID, c.Kind,
		toNanos(c.LocalTimestamp), toNanos(c.ServerTimestamp), string(snapshot), toNanos(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert conflict: %w", err)
	}
	return nil
}

// ListConflicts returns the owner's recorded conflicts, most recent first.
// A limit of zero or less returns all of them.
func (s *SQLiteStore) ListConflicts(ctx context.Context, ownerID string, limit int) ([]types.ConflictEntry, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	query := `
		SELECT id, owner_id, session_id, operation_id, local_id, target_id, kind,
		       local_timestamp, server_timestamp, server_snapshot, created_at
		FROM sync_conflicts WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC`
	args := []any{ownerID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conflicts: %w", err)
	}
	defer rows.Close()

	out := []types.ConflictEntry{}
	for rows.Next() {
		var (
			c                           types.ConflictEntry
			snapshot                    string
			localTS, serverTS, createdAt int64
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.SessionID, &c.OperationID, &c.LocalID, &c.TargetID,
			&c.Kind, &localTS, &serverTS, &snapshot, &createdAt); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		if err := json.Unmarshal([]byte(snapshot), &c.ServerSnapshot); err != nil {
			return nil, fmt.Errorf("decode server snapshot: %w", err)
		}
		c.LocalTimestamp = fromNanos(localTS)
		c.ServerTimestamp = fromNanos(serverTS)
		c.CreatedAt = fromNanos(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// CheckSyncIdempotency returns the cached response for a sync id if one is
// recorded and has not expired.
func (s *SQLiteStore) CheckSyncIdempotency(ctx context.Context, ownerID, syncID string) ([]byte, bool, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, false, err
	}
	var response string
	err := s.db.QueryRowContext(ctx, `
		SELECT response FROM sync_idempotency
		WHERE owner_id = ? AND sync_id = ? AND expires_at > ?`,
		ownerID, syncID, toNanos(time.Now())).Scan(&response)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("check idempotency: %w", err)
	}
	return []byte(response), true, nil
}

// RecordSyncIdempotency caches a response for ttl. A later record for the
// same sync id replaces it.
func (s *SQLiteStore) RecordSyncIdempotency(ctx context.Context, ownerID, syncID string, response []byte, ttl time.Duration) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_idempotency (owner_id, sync_id, response, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (owner_id, sync_id) DO UPDATE SET response = excluded.response, expires_at = excluded.expires_at`,
		ownerID, syncID, string(response), toNanos(time.Now().Add(ttl)))
	if err != nil {
		return fmt.Errorf("record idempotency: %w", err)
	}
	return nil
}

// CleanExpiredIdempotency deletes expired cached responses and returns how
// many were removed.
func (s *SQLiteStore) CleanExpiredIdempotency(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_idempotency WHERE expires_at <= ?`, toNanos(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("clean idempotency: %w", err)
	}
	return res.RowsAffected()
}
