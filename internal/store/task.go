// Package store provides abstractions and implementations for data persistence.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/phrazzld/pictor-api/internal/domain"
)

// Pagination bounds for List. Limit values outside [MinListLimit, MaxListLimit]
// are clamped by implementations; negative offsets are treated as zero.
const (
	MinListLimit     = 1
	MaxListLimit     = 1000
	DefaultListLimit = 100
)

// TaskUpdate describes a partial mutation of a task row. Nil fields are
// left unchanged; set fields are applied together, all-or-nothing.
type TaskUpdate struct {
	Status      *domain.TaskStatus
	ResultRef   *string
	Error       *string
	CompletedAt *time.Time
}

// TaskFilter narrows List/ListAll results. All set fields must match
// (filters are conjunctive); nil fields match everything.
type TaskFilter struct {
	Status     *domain.TaskStatus
	SessionRef *string
	RunRef     *string
}

// TaskStore defines the interface for persisting generation tasks.
// It is the single authoritative record of every task; session caches
// are projections refreshed from it.
type TaskStore interface {
	// Create saves a new task. Returns ErrTaskExists if the id is already
	// taken; the check-and-insert must be atomic so that two concurrent
	// creates with the same id cannot both succeed.
	Create(ctx context.Context, task *domain.Task) error

	// GetByID retrieves a task by its unique id.
	// Returns ErrTaskNotFound if the task does not exist.
	GetByID(ctx context.Context, id string) (*domain.Task, error)

	// Update applies the supplied fields to an existing task and returns the
	// updated row. Returns ErrTaskNotFound if the task does not exist. No
	// partial writes survive an error. A terminal-status update against a row
	// that is already terminal is a no-op returning the row as it stands:
	// terminal states never transition again.
	Update(ctx context.Context, id string, update TaskUpdate) (*domain.Task, error)

	// MarkProcessing transitions a task to processing, but only from the
	// pending or processing state. The conditional write prevents two
	// workers from racing the same row and keeps restart recovery
	// idempotent. Returns ErrTaskNotFound when the row is missing or
	// already terminal.
	MarkProcessing(ctx context.Context, id string) error

	// List returns tasks matching the filter, ordered by created_at
	// descending, along with the total match count independent of the page
	// bounds. The limit is clamped to [MinListLimit, MaxListLimit].
	List(ctx context.Context, filter TaskFilter, limit, offset int) (int, []*domain.Task, error)

	// ListAll returns every task matching the filter with the same ordering
	// as List and no pagination cap.
	ListAll(ctx context.Context, filter TaskFilter) (int, []*domain.Task, error)
}

// TxTaskStore is a TaskStore that can bind its operations to an existing
// database transaction. SQL-backed implementations provide this; in-memory
// implementations do not.
type TxTaskStore interface {
	TaskStore

	// WithTx returns a TaskStore whose operations run inside tx. The
	// transaction lifecycle stays with the caller.
	WithTx(tx *sql.Tx) TaskStore
}
