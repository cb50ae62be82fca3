// Package memory provides in-process implementations of the store
// interfaces. The memory driver backs local development and tests where a
// PostgreSQL instance is unavailable or unwanted.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/phrazzld/pictor-api/internal/domain"
	"github.com/phrazzld/pictor-api/internal/store"
)

// Compile-time check to ensure TaskStore implements store.TaskStore.
var _ store.TaskStore = (*TaskStore)(nil)

// TaskStore is a thread-safe in-memory implementation of store.TaskStore.
// Semantics mirror the PostgreSQL implementation, including conditional
// transitions and filter behavior, so the two drivers are interchangeable.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task
}

// NewTaskStore creates an empty in-memory task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[string]*domain.Task),
	}
}

// Create saves a new task. Returns store.ErrTaskExists if the id is taken.
func (s *TaskStore) Create(_ context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return store.ErrInvalidEntity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; ok {
		return store.ErrTaskExists
	}

	s.tasks[task.ID] = copyTask(task)
	return nil
}

// GetByID retrieves a task by id, or store.ErrTaskNotFound.
func (s *TaskStore) GetByID(_ context.Context, id string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return copyTask(task), nil
}

// Update applies the supplied fields to an existing task and returns the
// updated row. Nil fields are left unchanged.
func (s *TaskStore) Update(
	_ context.Context,
	id string,
	update store.TaskUpdate,
) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}

	if update.Status != nil {
		if _, err := domain.ParseTaskStatus(string(*update.Status)); err != nil {
			return nil, store.ErrInvalidEntity
		}
		// Terminal rows never transition again; a second terminal write
		// converges on the row as it stands.
		if update.Status.IsTerminal() && task.IsTerminal() {
			return copyTask(task), nil
		}
		task.Status = *update.Status
	}
	if update.ResultRef != nil {
		ref := *update.ResultRef
		task.ResultRef = &ref
	}
	if update.Error != nil {
		msg := *update.Error
		task.Error = &msg
	}
	if update.CompletedAt != nil {
		at := *update.CompletedAt
		task.CompletedAt = &at
	}

	return copyTask(task), nil
}

// MarkProcessing transitions a task to processing from the pending or
// processing state only. Returns store.ErrTaskNotFound when the row is
// missing or already terminal.
func (s *TaskStore) MarkProcessing(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok || task.IsTerminal() {
		return store.ErrTaskNotFound
	}

	task.Status = domain.TaskStatusProcessing
	return nil
}

// List returns tasks matching the filter ordered by creation time
// descending, plus the total match count independent of page bounds.
func (s *TaskStore) List(
	_ context.Context,
	filter store.TaskFilter,
	limit, offset int,
) (int, []*domain.Task, error) {
	if limit < store.MinListLimit {
		limit = store.DefaultListLimit
	}
	if limit > store.MaxListLimit {
		limit = store.MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	matched := s.match(filter)
	total := len(matched)

	if offset >= total {
		return total, []*domain.Task{}, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return total, matched[offset:end], nil
}

// ListAll returns every task matching the filter with the same ordering as
// List and no pagination cap.
func (s *TaskStore) ListAll(
	_ context.Context,
	filter store.TaskFilter,
) (int, []*domain.Task, error) {
	matched := s.match(filter)
	return len(matched), matched, nil
}

// match snapshots tasks passing the filter, newest first.
func (s *TaskStore) match(filter store.TaskFilter) []*domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*domain.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if filter.Status != nil && task.Status != *filter.Status {
			continue
		}
		if filter.SessionRef != nil && !ptrEqual(task.SessionRef, filter.SessionRef) {
			continue
		}
		if filter.RunRef != nil && !ptrEqual(task.RunRef, filter.RunRef) {
			continue
		}
		matched = append(matched, copyTask(task))
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	return matched
}

func ptrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// copyTask returns a deep copy so callers never share pointers with the store.
func copyTask(t *domain.Task) *domain.Task {
	clone := *t
	if t.ResultRef != nil {
		ref := *t.ResultRef
		clone.ResultRef = &ref
	}
	if t.Error != nil {
		msg := *t.Error
		clone.Error = &msg
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		clone.CompletedAt = &at
	}
	if t.SessionRef != nil {
		ref := *t.SessionRef
		clone.SessionRef = &ref
	}
	if t.RunRef != nil {
		ref := *t.RunRef
		clone.RunRef = &ref
	}
	return &clone
}
