package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/pictor-api/internal/api/shared"
	"github.com/phrazzld/pictor-api/internal/domain"
	"github.com/phrazzld/pictor-api/internal/service"
	"github.com/phrazzld/pictor-api/internal/store"
)

// ServiceName identifies this service in the health payload.
const ServiceName = "pictor-api"

// TaskHandler handles task-related HTTP requests.
type TaskHandler struct {
	taskService *service.TaskService
	logger      *slog.Logger
}

// NewTaskHandler creates a new TaskHandler with the given service.
func NewTaskHandler(taskService *service.TaskService, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		taskService: taskService,
		logger:      logger.With(slog.String("component", "task_handler")),
	}
}

// CreateTaskRequest is the body of POST /api/tasks. The prompt must be
// fully resolved by the caller; no placeholder substitution happens here.
type CreateTaskRequest struct {
	Prompt     string  `json:"prompt"      validate:"required"`
	ID         string  `json:"id,omitempty"`
	SessionRef *string `json:"session_ref,omitempty"`
	RunRef     *string `json:"run_ref,omitempty"`
}

// CallbackRequest is the body of POST /webhook/generation-callback.
type CallbackRequest struct {
	ID          string  `json:"id"     validate:"required"`
	Status      string  `json:"status" validate:"required,oneof=completed failed"`
	ResultRef   *string `json:"result_ref,omitempty"`
	Error       *string `json:"error,omitempty"`
	CompletedAt string  `json:"completed_at,omitempty"`
}

// CallbackResponse acknowledges a completion callback.
type CallbackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

// ListTasksResponse is the body of the list endpoints.
type ListTasksResponse struct {
	Total int            `json:"total"`
	Tasks []*domain.Task `json:"tasks"`
}

// CreateTask handles POST /api/tasks. It accepts a generation request,
// persists a pending task, and returns immediately; the result arrives
// asynchronously via the completion callback.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	task, created, err := h.taskService.RequestGeneration(r.Context(), service.GenerationRequest{
		ID:         req.ID,
		Prompt:     req.Prompt,
		SessionRef: req.SessionRef,
		RunRef:     req.RunRef,
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	if !created {
		shared.RespondWithJSON(w, r, http.StatusConflict, task)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, task)
}

// GenerationCallback handles POST /webhook/generation-callback. The
// endpoint is idempotent: replaying a callback for a task that is already
// terminal acknowledges without modifying the row.
func (h *TaskHandler) GenerationCallback(w http.ResponseWriter, r *http.Request) {
	var req CallbackRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, SanitizeValidationError(err))
		return
	}

	status, err := domain.ParseTaskStatus(req.Status)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task status")
		return
	}

	completedAt := h.parseCompletedAt(r, req.CompletedAt)

	task, err := h.taskService.CompleteTask(
		r.Context(),
		req.ID,
		status,
		req.ResultRef,
		req.Error,
		completedAt,
	)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, CallbackResponse{
		Success: true,
		Message: "task " + string(task.Status),
		ID:      task.ID,
	})
}

// parseCompletedAt parses the callback's completion timestamp. Timestamps
// are ISO-8601 with a trailing Z; an unparsable or missing value falls back
// to the receipt time rather than rejecting the callback.
func (h *TaskHandler) parseCompletedAt(r *http.Request, raw string) time.Time {
	if raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return t.UTC()
		}
		h.logger.Warn("unparsable completed_at in callback, using receipt time",
			slog.String("completed_at", raw),
			slog.String("trace_id", shared.GetTraceID(r.Context())))
	}
	return time.Now().UTC()
}

// GetTask handles GET /api/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	task, err := h.taskService.GetTask(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, task)
}

// ListTasks handles GET /api/tasks with optional status, session_ref, and
// run_ref filters plus limit/offset pagination.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTaskFilter(r)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task status")
		return
	}

	limit := parseIntParam(r, "limit", store.DefaultListLimit)
	offset := parseIntParam(r, "offset", 0)

	total, tasks, err := h.taskService.ListTasks(r.Context(), filter, limit, offset)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ListTasksResponse{
		Total: total,
		Tasks: tasks,
	})
}

// ListAllTasks handles GET /api/tasks/all: the same filters as ListTasks
// with no pagination cap.
func (h *TaskHandler) ListAllTasks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseTaskFilter(r)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task status")
		return
	}

	total, tasks, err := h.taskService.ListAllTasks(r.Context(), filter)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ListTasksResponse{
		Total: total,
		Tasks: tasks,
	})
}

// HealthCheck handles GET /api/health.
func (h *TaskHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": ServiceName,
	})
}

// parseTaskFilter extracts the filter fields from query parameters.
func parseTaskFilter(r *http.Request) (store.TaskFilter, error) {
	var filter store.TaskFilter

	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := domain.ParseTaskStatus(raw)
		if err != nil {
			return filter, err
		}
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("session_ref"); raw != "" {
		filter.SessionRef = &raw
	}
	if raw := r.URL.Query().Get("run_ref"); raw != "" {
		filter.RunRef = &raw
	}

	return filter, nil
}

// parseIntParam reads an integer query parameter, falling back to def for
// missing or malformed values. Range clamping is the store's concern.
func parseIntParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return value
}
