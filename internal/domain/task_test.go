package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	t.Run("generates id when none supplied", func(t *testing.T) {
		task, err := NewTask("", "a watercolor fox", nil, nil)
		require.NoError(t, err)

		_, parseErr := uuid.Parse(task.ID)
		assert.NoError(t, parseErr, "generated id should be a valid UUID")
		assert.Equal(t, TaskStatusPending, task.Status)
		assert.WithinDuration(t, time.Now().UTC(), task.CreatedAt, time.Second)
		assert.Nil(t, task.CompletedAt)
	})

	t.Run("keeps supplied id", func(t *testing.T) {
		task, err := NewTask("task-123", "a watercolor fox", nil, nil)
		require.NoError(t, err)
		assert.Equal(t, "task-123", task.ID)
	})

	t.Run("carries correlation refs", func(t *testing.T) {
		sessionRef := "conv-1"
		runRef := "run-9"
		task, err := NewTask("", "a watercolor fox", &sessionRef, &runRef)
		require.NoError(t, err)
		require.NotNil(t, task.SessionRef)
		require.NotNil(t, task.RunRef)
		assert.Equal(t, "conv-1", *task.SessionRef)
		assert.Equal(t, "run-9", *task.RunRef)
	})

	t.Run("rejects empty prompt", func(t *testing.T) {
		_, err := NewTask("", "", nil, nil)
		assert.ErrorIs(t, err, ErrEmptyPrompt)
	})
}

func TestTaskValidate(t *testing.T) {
	tests := []struct {
		name    string
		task    Task
		wantErr error
	}{
		{
			name:    "valid task",
			task:    Task{ID: "t1", Prompt: "p", Status: TaskStatusPending},
			wantErr: nil,
		},
		{
			name:    "empty id",
			task:    Task{Prompt: "p", Status: TaskStatusPending},
			wantErr: ErrEmptyTaskID,
		},
		{
			name:    "empty prompt",
			task:    Task{ID: "t1", Status: TaskStatusPending},
			wantErr: ErrEmptyPrompt,
		},
		{
			name:    "invalid status",
			task:    Task{ID: "t1", Prompt: "p", Status: TaskStatus("limbo")},
			wantErr: ErrInvalidTaskStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestTaskStatusIsTerminal(t *testing.T) {
	assert.False(t, TaskStatusPending.IsTerminal())
	assert.False(t, TaskStatusProcessing.IsTerminal())
	assert.True(t, TaskStatusCompleted.IsTerminal())
	assert.True(t, TaskStatusFailed.IsTerminal())
}

func TestParseTaskStatus(t *testing.T) {
	status, err := ParseTaskStatus("completed")
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, status)

	_, err = ParseTaskStatus("done")
	assert.ErrorIs(t, err, ErrInvalidTaskStatus)
}
