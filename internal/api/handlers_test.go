package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/hyperengineering/tasksync/internal/types"
	"github.com/oklog/ulid/v2"
)

func seedTask(t *testing.T, env *testEnv, owner, title string, deleted bool) *types.Task {
	t.Helper()
	id := ulid.Make().String()
	now := time.Now().UTC()
	task := &types.Task{
		ID:            id,
		OwnerID:       owner,
		Title:         title,
		IsDeleted:     deleted,
		SyncStatus:    types.SyncStatusSynced,
		ServerID:      id,
		LastOperation: types.OperationCreate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	seed := types.IDMapping{LocalID: "seed-" + id, ServerID: id}
	if err := env.store.InsertTaskWithMapping(context.Background(), task, seed); err != nil {
		t.Fatal(err)
	}
	return task
}

func TestHealth_ReturnsHealthyStatus(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "", nil)

	expectStatus(t, w, http.StatusOK)
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	resp := decode[types.HealthResponse](t, w)
	if resp.Status != "healthy" || resp.Version != "1.2.3" {
		t.Errorf("health = %+v", resp)
	}
}

func TestHealth_DatabaseDownReturns503(t *testing.T) {
	env := newTestEnv(t)
	env.store.Close()

	w := env.do(t, http.MethodGet, "/api/v1/health", "", nil)

	expectStatus(t, w, http.StatusServiceUnavailable)
}

func TestListTasks_ScopedToOwner(t *testing.T) {
	env := newTestEnv(t)
	seedTask(t, env, "owner-1", "mine", false)
	seedTask(t, env, "owner-1", "gone", true)
	seedTask(t, env, "owner-2", "theirs", false)

	w := env.do(t, http.MethodGet, "/api/v1/tasks", "owner-1", nil)
	expectStatus(t, w, http.StatusOK)
	tasks := decode[[]types.Task](t, w)
	if len(tasks) != 1 || tasks[0].Title != "mine" {
		t.Errorf("tasks = %+v, want only mine", tasks)
	}

	w = env.do(t, http.MethodGet, "/api/v1/tasks?include_deleted=true", "owner-1", nil)
	expectStatus(t, w, http.StatusOK)
	if tasks := decode[[]types.Task](t, w); len(tasks) != 2 {
		t.Errorf("include_deleted returned %d tasks, want 2", len(tasks))
	}
}

func TestListTasks_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/tasks", "owner-1", nil)

	expectStatus(t, w, http.StatusOK)
	if body := w.Body.String(); body != "[]\n" {
		t.Errorf("body = %q, want []", body)
	}
}

func TestListTasks_BadIncludeDeleted(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/tasks?include_deleted=maybe", "owner-1", nil)

	expectStatus(t, w, http.StatusBadRequest)
}

func TestGetTask_FoundAndNotFound(t *testing.T) {
	env := newTestEnv(t)
	task := seedTask(t, env, "owner-1", "mine", false)

	w := env.do(t, http.MethodGet, "/api/v1/tasks/"+task.ID, "owner-1", nil)
	expectStatus(t, w, http.StatusOK)
	if got := decode[types.Task](t, w); got.Title != "mine" {
		t.Errorf("Title = %q, want mine", got.Title)
	}

	// Another owner cannot see it
	w = env.do(t, http.MethodGet, "/api/v1/tasks/"+task.ID, "owner-2", nil)
	expectStatus(t, w, http.StatusNotFound)

	w = env.do(t, http.MethodGet, "/api/v1/tasks/"+ulid.Make().String(), "owner-1", nil)
	expectStatus(t, w, http.StatusNotFound)
}
