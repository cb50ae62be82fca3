// Package postgres provides PostgreSQL implementations of the store interfaces.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/phrazzld/pictor-api/internal/domain"
	"github.com/phrazzld/pictor-api/internal/store"
)

// Compile-time check to ensure PostgresTaskStore implements store.TaskStore.
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
// The tasks table is the authoritative record of every generation task.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgreSQL implementation of store.TaskStore.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// WithTx returns a new store instance that uses the provided transaction.
// This allows for multiple operations to be executed within a single transaction.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{
		db:     tx,
		logger: s.logger,
	}
}

// taskColumns is the canonical select list. Scan order must match scanTask.
const taskColumns = `id, prompt, status, result_ref, error_message, created_at, completed_at, session_ref, run_ref`

// Create saves a new task to the database. It validates the task before
// saving and returns store.ErrTaskExists when the id is already taken.
// The uniqueness check rides on the primary key, so two concurrent creates
// with the same id cannot both succeed.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := s.logger.With(slog.String("method", "Create"))

	if err := task.Validate(); err != nil {
		log.Warn("task validation failed during creation",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID))
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO tasks (id, prompt, status, result_ref, error_message, created_at, completed_at, session_ref, run_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := s.db.ExecContext(ctx, query,
		task.ID,
		task.Prompt,
		string(task.Status),
		task.ResultRef,
		task.Error,
		task.CreatedAt,
		task.CompletedAt,
		task.SessionRef,
		task.RunRef,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			log.Warn("task already exists",
				slog.String("task_id", task.ID))
			return store.ErrTaskExists
		}

		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("task_id", task.ID))
		return MapError(err)
	}

	log.Debug("task created successfully",
		slog.String("task_id", task.ID),
		slog.String("status", string(task.Status)))
	return nil
}

// GetByID retrieves a task by its unique id.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *PostgresTaskStore) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	log := s.logger.With(slog.String("method", "GetByID"))

	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("task not found", slog.String("task_id", id))
			return nil, store.ErrTaskNotFound
		}

		log.Error("failed to get task",
			slog.String("error", err.Error()),
			slog.String("task_id", id))
		return nil, MapError(err)
	}

	return task, nil
}

// Update applies the supplied fields to an existing task and returns the
// updated row. Nil fields in the update are left untouched; set fields are
// applied together in a single UPDATE, so no partial write can survive an
// error. Returns store.ErrTaskNotFound if the task does not exist. A
// terminal write against an already-terminal row returns the row unchanged.
func (s *PostgresTaskStore) Update(
	ctx context.Context,
	id string,
	update store.TaskUpdate,
) (*domain.Task, error) {
	log := s.logger.With(slog.String("method", "Update"))

	setClauses := make([]string, 0, 4)
	args := make([]interface{}, 0, 5)

	if update.Status != nil {
		if !update.Status.IsTerminal() &&
			*update.Status != domain.TaskStatusPending &&
			*update.Status != domain.TaskStatusProcessing {
			return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, domain.ErrInvalidTaskStatus)
		}
		args = append(args, string(*update.Status))
		setClauses = append(setClauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if update.ResultRef != nil {
		args = append(args, *update.ResultRef)
		setClauses = append(setClauses, fmt.Sprintf("result_ref = $%d", len(args)))
	}
	if update.Error != nil {
		args = append(args, *update.Error)
		setClauses = append(setClauses, fmt.Sprintf("error_message = $%d", len(args)))
	}
	if update.CompletedAt != nil {
		args = append(args, *update.CompletedAt)
		setClauses = append(setClauses, fmt.Sprintf("completed_at = $%d", len(args)))
	}

	if len(setClauses) == 0 {
		// Nothing to change; return the current row.
		return s.GetByID(ctx, id)
	}

	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	terminalWrite := update.Status != nil && update.Status.IsTerminal()
	if terminalWrite {
		// Terminal rows never transition again. The condition makes
		// concurrent terminal writers converge: the loser's update matches
		// no rows and the current row is returned instead.
		args = append(args,
			string(domain.TaskStatusPending),
			string(domain.TaskStatusProcessing))
		where += fmt.Sprintf(" AND status IN ($%d, $%d)", len(args)-1, len(args))
	}

	query := fmt.Sprintf(
		`UPDATE tasks SET %s WHERE %s RETURNING `+taskColumns,
		strings.Join(setClauses, ", "),
		where,
	)

	task, err := scanTask(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if terminalWrite {
				return s.GetByID(ctx, id)
			}
			log.Debug("task not found for update", slog.String("task_id", id))
			return nil, store.ErrTaskNotFound
		}

		log.Error("failed to update task",
			slog.String("error", err.Error()),
			slog.String("task_id", id))
		return nil, MapError(err)
	}

	log.Debug("task updated successfully",
		slog.String("task_id", task.ID),
		slog.String("status", string(task.Status)))
	return task, nil
}

// MarkProcessing transitions a task to processing, but only from the pending
// or processing state. The conditional write keeps restart recovery
// idempotent and prevents a late worker from dragging a terminal task
// backwards. Returns store.ErrTaskNotFound when the row is missing or
// already terminal.
func (s *PostgresTaskStore) MarkProcessing(ctx context.Context, id string) error {
	log := s.logger.With(slog.String("method", "MarkProcessing"))

	query := `
		UPDATE tasks
		SET status = $1
		WHERE id = $2 AND status IN ($3, $4)
	`

	result, err := s.db.ExecContext(ctx, query,
		string(domain.TaskStatusProcessing),
		id,
		string(domain.TaskStatusPending),
		string(domain.TaskStatusProcessing),
	)
	if err != nil {
		log.Error("failed to mark task as processing",
			slog.String("error", err.Error()),
			slog.String("task_id", id))
		return MapError(err)
	}

	if err := CheckRowsAffected(result, "task"); err != nil {
		log.Debug("task not eligible for processing",
			slog.String("task_id", id))
		return store.ErrTaskNotFound
	}

	return nil
}

// List returns tasks matching the filter ordered by creation time descending,
// along with the total match count independent of the page bounds. The limit
// is clamped to [store.MinListLimit, store.MaxListLimit] and negative offsets
// are treated as zero.
func (s *PostgresTaskStore) List(
	ctx context.Context,
	filter store.TaskFilter,
	limit, offset int,
) (int, []*domain.Task, error) {
	log := s.logger.With(slog.String("method", "List"))

	if limit < store.MinListLimit {
		limit = store.DefaultListLimit
	}
	if limit > store.MaxListLimit {
		limit = store.MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	where, args := buildTaskFilter(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM tasks` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		log.Error("failed to count tasks", slog.String("error", err.Error()))
		return 0, nil, MapError(err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(
		`SELECT %s FROM tasks%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		taskColumns,
		where,
		len(args)-1,
		len(args),
	)

	tasks, err := s.queryTasks(ctx, query, args...)
	if err != nil {
		log.Error("failed to list tasks", slog.String("error", err.Error()))
		return 0, nil, err
	}

	return total, tasks, nil
}

// ListAll returns every task matching the filter with the same ordering as
// List and no pagination cap.
func (s *PostgresTaskStore) ListAll(
	ctx context.Context,
	filter store.TaskFilter,
) (int, []*domain.Task, error) {
	log := s.logger.With(slog.String("method", "ListAll"))

	where, args := buildTaskFilter(filter)
	query := `SELECT ` + taskColumns + ` FROM tasks` + where + ` ORDER BY created_at DESC, id`

	tasks, err := s.queryTasks(ctx, query, args...)
	if err != nil {
		log.Error("failed to list all tasks", slog.String("error", err.Error()))
		return 0, nil, err
	}

	return len(tasks), tasks, nil
}

// buildTaskFilter renders the conjunctive WHERE clause for a filter.
// Returns an empty string when no fields are set.
func buildTaskFilter(filter store.TaskFilter) (string, []interface{}) {
	clauses := make([]string, 0, 3)
	args := make([]interface{}, 0, 3)

	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.SessionRef != nil {
		args = append(args, *filter.SessionRef)
		clauses = append(clauses, fmt.Sprintf("session_ref = $%d", len(args)))
	}
	if filter.RunRef != nil {
		args = append(args, *filter.RunRef)
		clauses = append(clauses, fmt.Sprintf("run_ref = $%d", len(args)))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// queryTasks executes a query expected to return task rows and scans them all.
func (s *PostgresTaskStore) queryTasks(
	ctx context.Context,
	query string,
	args ...interface{},
) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	tasks := make([]*domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, MapError(err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return tasks, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanTask.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanTask reads one task row in taskColumns order.
func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task   domain.Task
		status string
	)

	err := row.Scan(
		&task.ID,
		&task.Prompt,
		&status,
		&task.ResultRef,
		&task.Error,
		&task.CreatedAt,
		&task.CompletedAt,
		&task.SessionRef,
		&task.RunRef,
	)
	if err != nil {
		return nil, err
	}

	task.Status = domain.TaskStatus(status)
	return &task, nil
}
