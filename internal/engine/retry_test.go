package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hyperengineering/tasksync/internal/store"
	"github.com/hyperengineering/tasksync/internal/types"
)

var errDiskFull = errors.New("disk full")

// faultyStore fails updates of one record.
type faultyStore struct {
	store.Store
	failUpdateID string
}

func (f *faultyStore) UpdateTask(ctx context.Context, t *types.Task) error {
	if t.ID == f.failUpdateID {
		return errDiskFull
	}
	return f.Store.UpdateTask(ctx, t)
}

// tamperingStore alters the queue row of one target as it is re-read for
// verification.
type tamperingStore struct {
	store.Store
	target string
}

func (s *tamperingStore) GetQueuedByIDs(ctx context.Context, ownerID string, ids []string) ([]types.QueuedOperation, error) {
	ops, err := s.Store.GetQueuedByIDs(ctx, ownerID, ids)
	if err != nil {
		return nil, err
	}
	for i := range ops {
		if ops[i].TargetID == s.target {
			ops[i].Payload = json.RawMessage(`{"title":"tampered"}`)
		}
	}
	return ops, nil
}

// cancellingStore cancels the caller's context after the first create.
type cancellingStore struct {
	store.Store
	cancel context.CancelFunc
}

func (s *cancellingStore) InsertTaskWithMapping(ctx context.Context, t *types.Task, m types.IDMapping) error {
	err := s.Store.InsertTaskWithMapping(ctx, t, m)
	s.cancel()
	return err
}

func TestRetry_BelowCeilingStaysQueued(t *testing.T) {
	base := newTestStore(t)
	r := seedTask(t, base, "t", t0)
	e := New(&faultyStore{Store: base, failUpdateID: r.ID}, Options{})
	ctx := context.Background()

	change := types.ClientChange{
		Kind: types.OperationUpdate, LocalID: "L-R", ServerID: r.ID,
		Payload: titlePayload("never lands"), OperationTimestamp: at(t0.Add(time.Second)),
	}

	// When: The update fails in two sessions
	res, err := e.SubmitSync(ctx, owner, types.SyncRequest{Changes: []types.ClientChange{change}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 || res.Status != types.SessionError {
		t.Errorf("first result = %+v, want 1 failed and error status", res)
	}
	if _, err := e.SubmitSync(ctx, owner, types.SyncRequest{}); err != nil {
		t.Fatal(err)
	}

	// Then: Still queued with retry count 2 and the record in error
	queued, _ := base.ListQueued(ctx, owner)
	if len(queued) != 1 {
		t.Fatalf("queued = %d, want 1", len(queued))
	}
	if queued[0].RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", queued[0].RetryCount)
	}
	if queued[0].LastError == nil || *queued[0].LastError == "" {
		t.Error("LastError should be recorded")
	}
	if got := getTask(t, base, r.ID); got.SyncStatus != types.SyncStatusError {
		t.Errorf("SyncStatus = %q, want error", got.SyncStatus)
	}
	dead, _ := base.ListDeadLetters(ctx, owner, 0)
	if len(dead) != 0 {
		t.Errorf("dead letters = %d, want 0", len(dead))
	}
}

func TestRetry_CeilingDeadLettersOnce(t *testing.T) {
	base := newTestStore(t)
	r := seedTask(t, base, "t", t0)
	e := New(&faultyStore{Store: base, failUpdateID: r.ID}, Options{})
	ctx := context.Background()

	change := types.ClientChange{
		Kind: types.OperationUpdate, LocalID: "L-R", ServerID: r.ID,
		Payload: titlePayload("never lands"), OperationTimestamp: at(t0.Add(time.Second)),
	}
	if _, err := e.SubmitSync(ctx, owner, types.SyncRequest{Changes: []types.ClientChange{change}}); err != nil {
		t.Fatal(err)
	}

	// When: Three more syncs run; the third failure hits the ceiling
	for i := 0; i < 3; i++ {
		if _, err := e.SubmitSync(ctx, owner, types.SyncRequest{}); err != nil {
			t.Fatal(err)
		}
	}

	// Then: Dead-lettered exactly once, gone from the queue, record failed
	dead, err := e.ListDeadLetters(ctx, owner, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(dead) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(dead))
	}
	if dead[0].RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3", dead[0].RetryCount)
	}
	if dead[0].LastError == nil || *dead[0].LastError != "update task: disk full" {
		t.Errorf("LastError = %v", dead[0].LastError)
	}
	if n, _ := base.CountQueued(ctx, owner); n != 0 {
		t.Errorf("CountQueued() = %d, want 0", n)
	}
	if got := getTask(t, base, r.ID); got.SyncStatus != types.SyncStatusFailed {
		t.Errorf("SyncStatus = %q, want failed", got.SyncStatus)
	}

	// And: The last sync found nothing to do
	status, _ := e.GetStatus(ctx, owner)
	if status.LastSessionStatus != types.SessionCompleted {
		t.Errorf("LastSessionStatus = %q, want completed", status.LastSessionStatus)
	}
}

func TestRetry_FailureDoesNotStopOtherOperations(t *testing.T) {
	base := newTestStore(t)
	broken := seedTask(t, base, "broken", t0)
	healthy := seedTask(t, base, "healthy", t0)
	e := New(&faultyStore{Store: base, failUpdateID: broken.ID}, Options{BatchSize: 1})

	res, err := e.SubmitSync(context.Background(), owner, types.SyncRequest{Changes: []types.ClientChange{
		{Kind: types.OperationUpdate, LocalID: "a", ServerID: broken.ID, Payload: titlePayload("x"), OperationTimestamp: at(t0.Add(time.Second))},
		{Kind: types.OperationUpdate, LocalID: "b", ServerID: healthy.ID, Payload: titlePayload("updated"), OperationTimestamp: at(t0.Add(time.Second))},
	}})
	if err != nil {
		t.Fatal(err)
	}

	if res.Processed != 1 || res.Failed != 1 || res.Status != types.SessionError {
		t.Errorf("result = %+v, want 1 processed, 1 failed, error", res)
	}
	if got := getTask(t, base, healthy.ID); got.Title != "updated" {
		t.Errorf("healthy Title = %q, want updated", got.Title)
	}
}

func TestIntegrity_MismatchFailsBatchWithoutCharge(t *testing.T) {
	base := newTestStore(t)
	ts := &tamperingStore{Store: base, target: "L1"}
	e := New(ts, Options{})
	ctx := context.Background()

	// Given: A batch whose rows change between assembly and processing
	res, err := e.SubmitSync(ctx, owner, types.SyncRequest{Changes: []types.ClientChange{
		{Kind: types.OperationCreate, LocalID: "L1", Payload: titlePayload("a")},
		{Kind: types.OperationCreate, LocalID: "L2", Payload: titlePayload("b")},
	}})
	if err != nil {
		t.Fatal(err)
	}

	// Then: Nothing applied, both counted failed, no retry charged
	if res.Failed != 2 || res.Processed != 0 || res.Status != types.SessionError {
		t.Errorf("result = %+v, want 2 failed, error", res)
	}
	tasks, _ := base.ListTasks(ctx, owner, true)
	if len(tasks) != 0 {
		t.Errorf("tasks = %d, want 0", len(tasks))
	}
	queued, _ := base.ListQueued(ctx, owner)
	if len(queued) != 2 {
		t.Fatalf("queued = %d, want 2", len(queued))
	}
	for _, op := range queued {
		if op.RetryCount != 0 {
			t.Errorf("RetryCount = %d, want 0", op.RetryCount)
		}
	}

	// When: The next sync sees untouched rows
	ts.target = ""
	res, err = e.SubmitSync(ctx, owner, types.SyncRequest{})
	if err != nil {
		t.Fatal(err)
	}

	// Then: A fresh batch goes through
	if res.Processed != 2 || len(res.Mappings) != 2 {
		t.Errorf("retry result = %+v, want 2 processed with mappings", res)
	}
}

func TestIntegrity_OnlyAffectedBatchFails(t *testing.T) {
	base := newTestStore(t)
	e := New(&tamperingStore{Store: base, target: "L2"}, Options{BatchSize: 1})
	ctx := context.Background()

	res, err := e.SubmitSync(ctx, owner, types.SyncRequest{Changes: []types.ClientChange{
		{Kind: types.OperationCreate, LocalID: "L1", Payload: titlePayload("a")},
		{Kind: types.OperationCreate, LocalID: "L2", Payload: titlePayload("b")},
		{Kind: types.OperationCreate, LocalID: "L3", Payload: titlePayload("c")},
	}})
	if err != nil {
		t.Fatal(err)
	}

	if res.Processed != 2 || res.Failed != 1 {
		t.Errorf("result = %+v, want 2 processed and 1 failed", res)
	}
	queued, _ := base.ListQueued(ctx, owner)
	if len(queued) != 1 || queued[0].TargetID != "L2" {
		t.Errorf("queued = %+v, want only L2", queued)
	}
}

func TestSubmitSync_CancelledMidDrainIsPartial(t *testing.T) {
	base := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := New(&cancellingStore{Store: base, cancel: cancel}, Options{})

	// Given: Two creates; the caller goes away after the first lands
	res, err := e.SubmitSync(ctx, owner, types.SyncRequest{Changes: []types.ClientChange{
		{Kind: types.OperationCreate, LocalID: "L1", Payload: titlePayload("a"), OperationTimestamp: at(t0)},
		{Kind: types.OperationCreate, LocalID: "L2", Payload: titlePayload("b"), OperationTimestamp: at(t0)},
	}})
	if err != nil {
		t.Fatalf("SubmitSync() error = %v", err)
	}

	// Then: The first stays applied, the session is partial and recorded
	if res.Status != types.SessionPartial || res.Processed != 1 || res.Failed != 0 {
		t.Errorf("result = %+v, want partial with 1 processed", res)
	}
	queued, _ := base.ListQueued(context.Background(), owner)
	if len(queued) != 1 || queued[0].TargetID != "L2" || queued[0].RetryCount != 0 {
		t.Errorf("queued = %+v, want L2 uncharged", queued)
	}
	sessions, _ := base.ListSessions(context.Background(), owner, 0)
	if len(sessions) != 1 || sessions[0].Status != types.SessionPartial {
		t.Errorf("sessions = %+v, want one partial", sessions)
	}
}

func TestSessionStatus(t *testing.T) {
	tests := []struct {
		failed  int
		stopped bool
		want    types.SessionStatus
	}{
		{0, false, types.SessionCompleted},
		{0, true, types.SessionPartial},
		{1, false, types.SessionError},
		{2, true, types.SessionError},
	}
	for _, tt := range tests {
		if got := sessionStatus(tt.failed, tt.stopped); got != tt.want {
			t.Errorf("sessionStatus(%d, %v) = %q, want %q", tt.failed, tt.stopped, got, tt.want)
		}
	}
}
