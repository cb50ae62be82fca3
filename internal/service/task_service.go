// Package service implements the application's use cases, coordinating the
// task store, session cache, and background runner.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/pictor-api/internal/domain"
	"github.com/phrazzld/pictor-api/internal/platform/logger"
	"github.com/phrazzld/pictor-api/internal/session"
	"github.com/phrazzld/pictor-api/internal/store"
	"github.com/phrazzld/pictor-api/internal/task"
)

// Submitter enqueues persisted tasks for background processing.
// Satisfied by *task.Runner.
type Submitter interface {
	Submit(taskID string) error
}

// Compile-time check that the runner satisfies Submitter.
var _ Submitter = (*task.Runner)(nil)

// GenerationRequest carries the inputs for a new generation task. The
// prompt must arrive fully resolved; the service performs no placeholder
// substitution. ID is optional and enables idempotent resubmission.
type GenerationRequest struct {
	ID         string
	Prompt     string
	SessionRef *string
	RunRef     *string
}

// TaskService coordinates task creation and completion across the store,
// the session cache, and the runner. The db handle is nil when the store is
// not SQL-backed; writes then go through the store interface directly.
type TaskService struct {
	db        *sql.DB
	taskStore store.TaskStore
	cache     *session.Cache
	submitter Submitter
	logger    *slog.Logger
}

// NewTaskService creates a TaskService. db may be nil for non-SQL stores.
func NewTaskService(
	db *sql.DB,
	taskStore store.TaskStore,
	cache *session.Cache,
	submitter Submitter,
	log *slog.Logger,
) *TaskService {
	if log == nil {
		log = slog.Default()
	}
	return &TaskService{
		db:        db,
		taskStore: taskStore,
		cache:     cache,
		submitter: submitter,
		logger:    log.With(slog.String("component", "task_service")),
	}
}

// RequestGeneration validates the request, persists a pending task, seeds
// the session cache, and enqueues the task for processing. The call returns
// as soon as the task is queued; results arrive asynchronously.
//
// Resubmitting an id that already exists is a no-op that returns the
// existing row with created=false.
func (s *TaskService) RequestGeneration(
	ctx context.Context,
	req GenerationRequest,
) (*domain.Task, bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	newTask, err := domain.NewTask(req.ID, req.Prompt, req.SessionRef, req.RunRef)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.createTask(ctx, newTask)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		log.Debug("generation request replayed, returning existing task",
			slog.String("task_id", existing.ID))
		return existing, false, nil
	}

	if newTask.SessionRef != nil {
		s.cache.Upsert(*newTask.SessionRef, session.SnapshotFromTask(newTask))
	}

	if err := s.submitter.Submit(newTask.ID); err != nil {
		// The row stays pending; startup recovery or a later sync picks it
		// up even though the queue rejected it now.
		log.Warn("task persisted but not enqueued",
			slog.String("task_id", newTask.ID),
			slog.String("error", err.Error()))
	}

	log.Info("generation task accepted",
		slog.String("task_id", newTask.ID))
	return newTask, true, nil
}

// createTask inserts the task row. Returns the existing row (and no error)
// when the id is already taken. On SQL stores the insert runs inside a
// transaction; a duplicate aborts the transaction, so the lookup of the
// existing row happens after the rollback.
func (s *TaskService) createTask(
	ctx context.Context,
	newTask *domain.Task,
) (*domain.Task, error) {
	var err error
	txStore, ok := s.taskStore.(store.TxTaskStore)
	if s.db != nil && ok {
		err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
			return txStore.WithTx(tx).Create(ctx, newTask)
		})
	} else {
		err = s.taskStore.Create(ctx, newTask)
	}

	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return s.taskStore.GetByID(ctx, newTask.ID)
		}
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return nil, nil
}

// CompleteTask records a terminal outcome for a task, typically on behalf
// of the completion webhook. A task that is already terminal is left
// unchanged and returned as-is, making callback replays harmless. Returns
// store.ErrTaskNotFound for unknown ids.
func (s *TaskService) CompleteTask(
	ctx context.Context,
	id string,
	status domain.TaskStatus,
	resultRef, errMsg *string,
	completedAt time.Time,
) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if !status.IsTerminal() {
		return nil, domain.ErrInvalidTaskStatus
	}

	current, err := s.taskStore.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.IsTerminal() {
		log.Debug("completion replayed for terminal task",
			slog.String("task_id", id),
			slog.String("status", string(current.Status)))
		s.refreshCache(current)
		return current, nil
	}

	at := completedAt.UTC()
	updated, err := s.taskStore.Update(ctx, id, store.TaskUpdate{
		Status:      &status,
		ResultRef:   resultRef,
		Error:       errMsg,
		CompletedAt: &at,
	})
	if err != nil {
		return nil, err
	}

	s.refreshCache(updated)

	log.Info("task completion recorded",
		slog.String("task_id", id),
		slog.String("status", string(status)))
	return updated, nil
}

// GetTask returns the authoritative row for a task.
func (s *TaskService) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	return s.taskStore.GetByID(ctx, id)
}

// ListTasks returns a page of tasks plus the total match count.
func (s *TaskService) ListTasks(
	ctx context.Context,
	filter store.TaskFilter,
	limit, offset int,
) (int, []*domain.Task, error) {
	return s.taskStore.List(ctx, filter, limit, offset)
}

// ListAllTasks returns every task matching the filter.
func (s *TaskService) ListAllTasks(
	ctx context.Context,
	filter store.TaskFilter,
) (int, []*domain.Task, error) {
	return s.taskStore.ListAll(ctx, filter)
}

// refreshCache mirrors a task row into its session, when it has one.
func (s *TaskService) refreshCache(t *domain.Task) {
	if t.SessionRef != nil {
		s.cache.Upsert(*t.SessionRef, session.SnapshotFromTask(t))
	}
}
