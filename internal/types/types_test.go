package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestOperationKind_Valid(t *testing.T) {
	tests := []struct {
		kind OperationKind
		want bool
	}{
		{OperationCreate, true},
		{OperationUpdate, true},
		{OperationDelete, true},
		{"upsert", false},
		{"", false},
		{"CREATE", false},
	}

	for _, tt := range tests {
		if got := tt.kind.Valid(); got != tt.want {
			t.Errorf("OperationKind(%q).Valid() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestParsePatch_PartialFields(t *testing.T) {
	// Given: A payload carrying only the title
	raw := json.RawMessage(`{"title":"Buy milk"}`)

	// When: It is parsed
	p, err := ParsePatch(raw)
	if err != nil {
		t.Fatalf("ParsePatch() error = %v", err)
	}

	// Then: Only the title is present
	if p.Title == nil || *p.Title != "Buy milk" {
		t.Errorf("Title = %v, want Buy milk", p.Title)
	}
	if p.Description != nil {
		t.Errorf("Description = %v, want nil", *p.Description)
	}
	if p.Completed != nil {
		t.Errorf("Completed = %v, want nil", *p.Completed)
	}
}

func TestParsePatch_EmptyPayload(t *testing.T) {
	p, err := ParsePatch(nil)
	if err != nil {
		t.Fatalf("ParsePatch(nil) error = %v", err)
	}
	if p.Title != nil || p.Description != nil || p.Completed != nil {
		t.Errorf("expected empty patch, got %+v", p)
	}
}

func TestParsePatch_RejectsUnknownFields(t *testing.T) {
	_, err := ParsePatch(json.RawMessage(`{"titel":"typo"}`))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
	if !strings.Contains(err.Error(), "malformed payload") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParsePatch_RejectsGarbage(t *testing.T) {
	if _, err := ParsePatch(json.RawMessage(`{not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestTaskPatch_ApplyTo_OnlyPresentFields(t *testing.T) {
	// Given: A task with every field set
	task := Task{Title: "old", Description: "keep me", Completed: false}
	done := true
	title := "new"

	// When: A patch with title and completed is applied
	TaskPatch{Title: &title, Completed: &done}.ApplyTo(&task)

	// Then: Absent fields are untouched
	if task.Title != "new" {
		t.Errorf("Title = %q, want new", task.Title)
	}
	if task.Description != "keep me" {
		t.Errorf("Description = %q, want unchanged", task.Description)
	}
	if !task.Completed {
		t.Error("Completed = false, want true")
	}
}

func TestTaskPatch_FalseCompletedIsPresent(t *testing.T) {
	// A patch that explicitly un-completes a task must not be dropped.
	p, err := ParsePatch(json.RawMessage(`{"completed":false}`))
	if err != nil {
		t.Fatalf("ParsePatch() error = %v", err)
	}
	task := Task{Completed: true}
	p.ApplyTo(&task)
	if task.Completed {
		t.Error("Completed = true, want false")
	}
}

func TestClientChange_TargetID(t *testing.T) {
	if got := (ClientChange{LocalID: "L1"}).TargetID(); got != "L1" {
		t.Errorf("TargetID() = %q, want L1", got)
	}
	if got := (ClientChange{LocalID: "L1", ServerID: "S1"}).TargetID(); got != "S1" {
		t.Errorf("TargetID() = %q, want S1", got)
	}
}

func TestSyncRequest_DecodesOptionalTimestamps(t *testing.T) {
	body := `{
		"changes": [
			{"kind": "create", "local_id": "L1", "payload": {"title": "Buy milk"}},
			{"kind": "update", "local_id": "L2", "server_id": "S2",
			 "operation_timestamp": "2026-01-02T03:04:05Z", "payload": {"completed": true}}
		],
		"last_synced_at": "2026-01-01T00:00:00Z"
	}`

	var req SyncRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if len(req.Changes) != 2 {
		t.Fatalf("len(Changes) = %d, want 2", len(req.Changes))
	}
	if req.Changes[0].OperationTimestamp != nil {
		t.Error("first change should have no operation timestamp")
	}
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if ts := req.Changes[1].OperationTimestamp; ts == nil || !ts.Equal(want) {
		t.Errorf("OperationTimestamp = %v, want %v", ts, want)
	}
	if req.LastSyncedAt == nil {
		t.Error("LastSyncedAt should be set")
	}
}
