package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the processing state of a generation task
type TaskStatus string

// Possible task status values
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Common validation errors for Task
var (
	ErrEmptyTaskID       = errors.New("task ID cannot be empty")
	ErrEmptyPrompt       = errors.New("task prompt cannot be empty")
	ErrInvalidTaskStatus = errors.New("invalid task status")
)

// Task represents one request to produce a generated artifact (an image),
// tracked from submission through its terminal outcome. The persisted row
// is the single source of truth for the task's state; session caches only
// mirror it.
type Task struct {
	ID          string     `json:"id"`
	Prompt      string     `json:"prompt"`
	Status      TaskStatus `json:"status"`
	ResultRef   *string    `json:"result_ref,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	SessionRef  *string    `json:"session_ref,omitempty"`
	RunRef      *string    `json:"run_ref,omitempty"`
}

// NewTask creates a new Task with the given prompt and optional correlation
// identifiers. It generates a new UUID for the task ID when none is supplied,
// sets the status to pending, and sets the creation timestamp.
// Returns an error if validation fails.
func NewTask(id, prompt string, sessionRef, runRef *string) (*Task, error) {
	if id == "" {
		id = uuid.NewString()
	}

	task := &Task{
		ID:         id,
		Prompt:     prompt,
		Status:     TaskStatusPending,
		CreatedAt:  time.Now().UTC(),
		SessionRef: sessionRef,
		RunRef:     runRef,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == "" {
		return ErrEmptyTaskID
	}

	if t.Prompt == "" {
		return ErrEmptyPrompt
	}

	if !isValidTaskStatus(t.Status) {
		return ErrInvalidTaskStatus
	}

	return nil
}

// IsTerminal reports whether the task has reached a terminal status.
// Terminal tasks never transition again.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// IsTerminal reports whether the status is completed or failed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// isValidTaskStatus checks if the given status is a valid TaskStatus.
func isValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// ParseTaskStatus converts a string into a TaskStatus.
// Returns ErrInvalidTaskStatus for unknown values.
func ParseTaskStatus(s string) (TaskStatus, error) {
	status := TaskStatus(s)
	if !isValidTaskStatus(status) {
		return "", ErrInvalidTaskStatus
	}
	return status, nil
}
