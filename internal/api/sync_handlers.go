package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hyperengineering/tasksync/internal/engine"
	"github.com/hyperengineering/tasksync/internal/types"
	"github.com/hyperengineering/tasksync/internal/validation"
)

const (
	// IdempotencyHeader carries a client-chosen key identifying a sync attempt.
	IdempotencyHeader = "Idempotency-Key"

	// ReplayHeader marks a response served from the idempotency cache.
	ReplayHeader = "X-Idempotent-Replay"

	maxIdempotencyKeyLength = 255
	defaultListLimit        = 50
	maxListLimit            = 500
)

// decodeBody decodes a JSON request body. It writes the problem response
// itself and reports false on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteProblem(w, r, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err))
		return false
	}
	return true
}

func checkChangeCount(w http.ResponseWriter, r *http.Request, n int) bool {
	if n > validation.MaxChangesPerRequest {
		WriteProblem(w, r, http.StatusBadRequest,
			fmt.Sprintf("changes exceeds maximum of %d", validation.MaxChangesPerRequest))
		return false
	}
	return true
}

// Sync handles POST /api/v1/sync
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	owner := MustOwnerFromContext(ctx)

	key := r.Header.Get(IdempotencyHeader)
	if len(key) > maxIdempotencyKeyLength {
		WriteProblem(w, r, http.StatusBadRequest,
			fmt.Sprintf("%s exceeds %d characters", IdempotencyHeader, maxIdempotencyKeyLength))
		return
	}

	if key != "" {
		cached, found, err := h.store.CheckSyncIdempotency(ctx, owner, key)
		if err != nil {
			slog.Error("idempotency check failed", "component", "api", "owner_id", owner, "error", err)
			MapError(w, r, err)
			return
		}
		if found {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set(ReplayHeader, "true")
			w.Write(cached)
			slog.Info("sync idempotent replay",
				"component", "api",
				"action", "sync_replay",
				"owner_id", owner,
				"idempotency_key", key,
			)
			return
		}
	}

	var req types.SyncRequest
	if !decodeBody(w, r, &req) || !checkChangeCount(w, r, len(req.Changes)) {
		return
	}

	res, err := h.engine.SubmitSync(ctx, owner, req)
	if err != nil {
		var verr *engine.ValidationErrors
		if !errors.As(err, &verr) {
			slog.Error("sync failed",
				"component", "api",
				"action", "sync_failed",
				"owner_id", owner,
				"error", err,
			)
		}
		MapError(w, r, err)
		return
	}

	body, err := json.Marshal(res)
	if err != nil {
		MapError(w, r, err)
		return
	}

	if key != "" {
		if err := h.store.RecordSyncIdempotency(ctx, owner, key, body, h.idempotencyTTL); err != nil {
			slog.Warn("failed to cache idempotency", "component", "api", "owner_id", owner, "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)

	slog.Info("sync served",
		"component", "api",
		"action", "sync",
		"owner_id", owner,
		"session_id", res.SessionID,
		"status", res.Status,
		"changes", len(req.Changes),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Enqueue handles POST /api/v1/sync/queue
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	owner := MustOwnerFromContext(r.Context())

	var req types.EnqueueRequest
	if !decodeBody(w, r, &req) || !checkChangeCount(w, r, len(req.Changes)) {
		return
	}

	queued, err := h.engine.Enqueue(r.Context(), owner, req.Changes)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.EnqueueResponse{Queued: queued})
}

// Status handles GET /api/v1/sync/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	owner := MustOwnerFromContext(r.Context())

	report, err := h.engine.GetStatus(r.Context(), owner)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// parseLimit reads the limit query parameter.
func parseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, fmt.Errorf("limit must be an integer between 1 and %d", maxListLimit)
	}
	return n, nil
}

// Sessions handles GET /api/v1/sync/sessions
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	owner := MustOwnerFromContext(r.Context())
	limit, err := parseLimit(r)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	sessions, err := h.engine.ListSessions(r.Context(), owner, limit)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// DeadLetters handles GET /api/v1/sync/dead-letters
func (h *Handler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	owner := MustOwnerFromContext(r.Context())
	limit, err := parseLimit(r)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	dead, err := h.engine.ListDeadLetters(r.Context(), owner, limit)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dead)
}

// Conflicts handles GET /api/v1/sync/conflicts
func (h *Handler) Conflicts(w http.ResponseWriter, r *http.Request) {
	owner := MustOwnerFromContext(r.Context())
	limit, err := parseLimit(r)
	if err != nil {
		WriteProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}

	conflicts, err := h.engine.ListConflicts(r.Context(), owner, limit)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conflicts)
}
