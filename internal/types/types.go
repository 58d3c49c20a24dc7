package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// OperationKind is the kind of a queued mutation.
type OperationKind string

const (
	OperationCreate OperationKind = "create"
	OperationUpdate OperationKind = "update"
	OperationDelete OperationKind = "delete"
)

// Valid reports whether k is one of the known operation kinds.
func (k OperationKind) Valid() bool {
	switch k {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// SyncStatus tracks where a task is in the sync lifecycle.
type SyncStatus string

const (
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusInProgress SyncStatus = "in_progress"
	SyncStatusSynced     SyncStatus = "synced"
	SyncStatusError      SyncStatus = "error"
	SyncStatusFailed     SyncStatus = "failed"
)

// SessionStatus is the overall outcome of one sync invocation.
type SessionStatus string

const (
	SessionCompleted SessionStatus = "completed"
	SessionPartial   SessionStatus = "partial"
	SessionError     SessionStatus = "error"
)

// Task is the synchronized record.
type Task struct {
	ID            string        `json:"id"`
	OwnerID       string        `json:"owner_id"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	Completed     bool          `json:"completed"`
	IsDeleted     bool          `json:"is_deleted"`
	SyncStatus    SyncStatus    `json:"sync_status"`
	ServerID      string        `json:"server_id,omitempty"`
	LastOperation OperationKind `json:"last_operation"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	LastSyncedAt  *time.Time    `json:"last_synced_at,omitempty"`
}

// TaskPatch holds the task fields carried by a queued operation.
// Nil fields are absent and leave the stored value untouched.
type TaskPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
}

// ApplyTo overwrites the fields of t that are present in the patch.
func (p TaskPatch) ApplyTo(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
}

// ParsePatch decodes a stored payload. Unknown fields are rejected so a
// corrupted row surfaces as an apply error instead of a silent no-op.
func ParsePatch(raw json.RawMessage) (TaskPatch, error) {
	var p TaskPatch
	if len(raw) == 0 {
		return p, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return TaskPatch{}, fmt.Errorf("malformed payload: %w", err)
	}
	return p, nil
}

// QueuedOperation is a pending mutation in the operation queue.
type QueuedOperation struct {
	ID                 string          `json:"id"`
	OwnerID            string          `json:"owner_id"`
	TargetID           string          `json:"target_id"`
	Kind               OperationKind   `json:"kind"`
	Payload            json.RawMessage `json:"payload"`
	RetryCount         int             `json:"retry_count"`
	LastError          *string         `json:"last_error,omitempty"`
	OperationTimestamp time.Time       `json:"operation_timestamp"`
	EnqueuedAt         time.Time       `json:"enqueued_at"`
}

// DeadLetter is a queued operation that exhausted its retry budget.
type DeadLetter struct {
	ID                 string          `json:"id"`
	OwnerID            string          `json:"owner_id"`
	OperationID        string          `json:"operation_id"`
	TargetID           string          `json:"target_id"`
	Kind               OperationKind   `json:"kind"`
	Payload            json.RawMessage `json:"payload"`
	RetryCount         int             `json:"retry_count"`
	LastError          *string         `json:"last_error,omitempty"`
	OperationTimestamp time.Time       `json:"operation_timestamp"`
	EnqueuedAt         time.Time       `json:"enqueued_at"`
	MovedAt            time.Time       `json:"moved_at"`
}

// SyncSession is the append-only summary of one sync invocation.
type SyncSession struct {
	ID        string        `json:"id"`
	OwnerID   string        `json:"owner_id"`
	Total     int           `json:"total"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Status    SessionStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// ConflictEntry is the persisted form of a conflict report.
type ConflictEntry struct {
	ID              string        `json:"id"`
	OwnerID         string        `json:"owner_id"`
	SessionID       string        `json:"session_id"`
	OperationID     string        `json:"operation_id"`
	LocalID         string        `json:"local_id"`
	TargetID        string        `json:"target_id"`
	Kind            OperationKind `json:"kind"`
	LocalTimestamp  time.Time     `json:"local_timestamp"`
	ServerTimestamp time.Time     `json:"server_timestamp"`
	ServerSnapshot  Task          `json:"server_snapshot"`
	CreatedAt       time.Time     `json:"created_at"`
}

// IDMapping links a client-local id to the server id allocated for it.
type IDMapping struct {
	LocalID  string `json:"local_id"`
	ServerID string `json:"server_id"`
}

// Conflict is reported to the client when the server copy won.
type Conflict struct {
	LocalID      string        `json:"local_id"`
	OperationID  string        `json:"operation_id"`
	Kind         OperationKind `json:"kind"`
	ServerRecord Task          `json:"server_record"`
}

// ClientChange is one mutation submitted by a client.
type ClientChange struct {
	Kind               OperationKind   `json:"kind"`
	LocalID            string          `json:"local_id"`
	Payload            json.RawMessage `json:"payload,omitempty"`
	ServerID           string          `json:"server_id,omitempty"`
	OperationTimestamp *time.Time      `json:"operation_timestamp,omitempty"`
}

// TargetID is the id the queued operation is addressed to.
func (c ClientChange) TargetID() string {
	if c.ServerID != "" {
		return c.ServerID
	}
	return c.LocalID
}

// SyncRequest is the body of a sync submission.
type SyncRequest struct {
	Changes      []ClientChange `json:"changes"`
	LastSyncedAt *time.Time     `json:"last_synced_at,omitempty"`
}

// EnqueueRequest is the body of a queue-only submission.
type EnqueueRequest struct {
	Changes []ClientChange `json:"changes"`
}

// EnqueueResponse lists the operations appended to the queue.
type EnqueueResponse struct {
	Queued []QueuedOperation `json:"queued"`
}

// SyncResult is returned by a sync submission.
type SyncResult struct {
	SessionID     string        `json:"session_id"`
	Status        SessionStatus `json:"status"`
	Processed     int           `json:"processed"`
	Failed        int           `json:"failed"`
	Mappings      []IDMapping   `json:"mappings"`
	Conflicts     []Conflict    `json:"conflicts"`
	ServerChanges []Task        `json:"server_changes"`
}

// SyncStatusReport describes queue depth and recent sessions for an owner.
type SyncStatusReport struct {
	PendingCount         int           `json:"pending_count"`
	LastSessionTimestamp *time.Time    `json:"last_session_timestamp"`
	LastSessionStatus    SessionStatus `json:"last_session_status,omitempty"`
	RecentSessions       []SyncSession `json:"recent_sessions"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
