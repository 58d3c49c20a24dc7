package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyperengineering/tasksync/internal/engine"
	"github.com/hyperengineering/tasksync/internal/store"
	"github.com/hyperengineering/tasksync/internal/types"
)

// Handler implements the API handlers
type Handler struct {
	engine         *engine.Engine
	store          store.Store
	tokens         TokenValidator
	version        string
	idempotencyTTL time.Duration
}

// NewHandler creates a new Handler. Task reads and idempotency records go
// straight to the store; everything that mutates goes through the engine.
func NewHandler(eng *engine.Engine, s store.Store, tokens TokenValidator, version string, idempotencyTTL time.Duration) *Handler {
	return &Handler{
		engine:         eng,
		store:          s,
		tokens:         tokens,
		version:        version,
		idempotencyTTL: idempotencyTTL,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:  "healthy",
		Version: h.version,
	})
}

// ListTasks handles GET /api/v1/tasks
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	owner := MustOwnerFromContext(r.Context())

	includeDeleted := false
	if v := r.URL.Query().Get("include_deleted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			WriteProblem(w, r, http.StatusBadRequest, "include_deleted must be a boolean")
			return
		}
		includeDeleted = b
	}

	tasks, err := h.store.ListTasks(r.Context(), owner, includeDeleted)
	if err != nil {
		slog.Error("list tasks failed", "component", "api", "owner_id", owner, "error", err)
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GetTask handles GET /api/v1/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	owner := MustOwnerFromContext(r.Context())
	id := chi.URLParam(r, "id")

	task, err := h.store.GetTask(r.Context(), owner, id)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}
