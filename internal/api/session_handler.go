package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/pictor-api/internal/api/shared"
	"github.com/phrazzld/pictor-api/internal/domain"
	"github.com/phrazzld/pictor-api/internal/session"
)

// SessionHandler exposes the per-session task view. Reading a session first
// reconciles its non-terminal snapshots against the store, so the response
// reflects outcomes even when a completion callback was lost.
type SessionHandler struct {
	reconciler *session.Reconciler
	cache      *session.Cache
	logger     *slog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(
	reconciler *session.Reconciler,
	cache *session.Cache,
	logger *slog.Logger,
) *SessionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{
		reconciler: reconciler,
		cache:      cache,
		logger:     logger.With(slog.String("component", "session_handler")),
	}
}

// TaskView is the JSON shape of one session snapshot.
type TaskView struct {
	ID          string             `json:"id"`
	Prompt      *string            `json:"prompt,omitempty"`
	Status      *domain.TaskStatus `json:"status,omitempty"`
	ResultRef   *string            `json:"result_ref,omitempty"`
	Error       *string            `json:"error,omitempty"`
	CreatedAt   *time.Time         `json:"created_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	RunRef      *string            `json:"run_ref,omitempty"`
}

// SessionTasksResponse is the body of GET /api/sessions/{session_ref}/tasks.
type SessionTasksResponse struct {
	SessionRef string             `json:"session_ref"`
	Sync       session.SyncResult `json:"sync"`
	Tasks      []TaskView         `json:"tasks"`
}

// GetSessionTasks handles GET /api/sessions/{session_ref}/tasks. It syncs
// the session's non-terminal snapshots from the store and returns the
// refreshed view, newest first.
func (h *SessionHandler) GetSessionTasks(w http.ResponseWriter, r *http.Request) {
	sessionRef := chi.URLParam(r, "session_ref")

	result, err := h.reconciler.Sync(r.Context(), sessionRef)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	snaps := h.cache.Snapshots(sessionRef)
	views := make([]TaskView, 0, len(snaps))
	for _, snap := range snaps {
		views = append(views, snapshotView(snap))
	}

	shared.RespondWithJSON(w, r, http.StatusOK, SessionTasksResponse{
		SessionRef: sessionRef,
		Sync:       result,
		Tasks:      views,
	})
}

// CheckSessionTask handles GET /api/sessions/{session_ref}/tasks/{id}. It
// refreshes a single task's snapshot from the store, inserting it into the
// session when the cache has never seen it.
func (h *SessionHandler) CheckSessionTask(w http.ResponseWriter, r *http.Request) {
	sessionRef := chi.URLParam(r, "session_ref")
	taskID := chi.URLParam(r, "id")

	snap, err := h.reconciler.Check(r.Context(), sessionRef, taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, snapshotView(snap))
}

func snapshotView(snap session.Snapshot) TaskView {
	return TaskView{
		ID:          snap.ID,
		Prompt:      snap.Prompt,
		Status:      snap.Status,
		ResultRef:   snap.ResultRef,
		Error:       snap.Error,
		CreatedAt:   snap.CreatedAt,
		CompletedAt: snap.CompletedAt,
		RunRef:      snap.RunRef,
	}
}
