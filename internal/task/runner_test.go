package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/pictor-api/internal/domain"
	"github.com/phrazzld/pictor-api/internal/platform/memory"
	"github.com/phrazzld/pictor-api/internal/store"
)

// mockGenerator drives worker behavior per task id.
type mockGenerator struct {
	generate func(ctx context.Context, taskID, prompt string) (string, error)
}

func (m *mockGenerator) Generate(ctx context.Context, taskID, prompt string) (string, error) {
	return m.generate(ctx, taskID, prompt)
}

// outcome is one recorded notifier call.
type outcome struct {
	taskID    string
	status    domain.TaskStatus
	resultRef string
	errMsg    string
}

// mockNotifier records outcomes and signals each delivery.
type mockNotifier struct {
	outcomes chan outcome
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{outcomes: make(chan outcome, 16)}
}

func (m *mockNotifier) Complete(
	_ context.Context,
	taskID, resultRef string,
	_ time.Time,
) error {
	m.outcomes <- outcome{taskID: taskID, status: domain.TaskStatusCompleted, resultRef: resultRef}
	return nil
}

func (m *mockNotifier) Fail(_ context.Context, taskID, errMsg string, _ time.Time) error {
	m.outcomes <- outcome{taskID: taskID, status: domain.TaskStatusFailed, errMsg: errMsg}
	return nil
}

func (m *mockNotifier) wait(t *testing.T) outcome {
	t.Helper()
	select {
	case o := <-m.outcomes:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for task outcome")
		return outcome{}
	}
}

func seedPending(t *testing.T, s store.TaskStore, id string) {
	t.Helper()
	task, err := domain.NewTask(id, "prompt "+id, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), task))
}

func TestRunnerProcessesTaskToCompletion(t *testing.T) {
	taskStore := memory.NewTaskStore()
	notifier := newMockNotifier()
	gen := &mockGenerator{
		generate: func(_ context.Context, taskID, _ string) (string, error) {
			return "https://example.com/generated-images/" + taskID + ".png", nil
		},
	}

	runner := NewRunner(taskStore, gen, notifier, RunnerConfig{WorkerCount: 2, QueueSize: 10}, nil)
	require.NoError(t, runner.Start())
	defer runner.Stop()

	seedPending(t, taskStore, "t1")
	require.NoError(t, runner.Submit("t1"))

	got := notifier.wait(t)
	assert.Equal(t, "t1", got.taskID)
	assert.Equal(t, domain.TaskStatusCompleted, got.status)
	assert.Equal(t, "https://example.com/generated-images/t1.png", got.resultRef)

	// The claim transition happened before generation.
	row, err := taskStore.GetByID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusProcessing, row.Status)
}

func TestRunnerRecordsGenerationFailure(t *testing.T) {
	taskStore := memory.NewTaskStore()
	notifier := newMockNotifier()
	gen := &mockGenerator{
		generate: func(_ context.Context, _, _ string) (string, error) {
			return "", errors.New("backend unavailable")
		},
	}

	runner := NewRunner(taskStore, gen, notifier, RunnerConfig{WorkerCount: 1, QueueSize: 10}, nil)
	require.NoError(t, runner.Start())
	defer runner.Stop()

	seedPending(t, taskStore, "t1")
	require.NoError(t, runner.Submit("t1"))

	got := notifier.wait(t)
	assert.Equal(t, domain.TaskStatusFailed, got.status)
	assert.Contains(t, got.errMsg, "backend unavailable")
}

func TestRunnerContainsWorkerPanic(t *testing.T) {
	taskStore := memory.NewTaskStore()
	notifier := newMockNotifier()
	gen := &mockGenerator{
		generate: func(_ context.Context, taskID, _ string) (string, error) {
			if taskID == "bad" {
				panic("generator exploded")
			}
			return "ref-" + taskID, nil
		},
	}

	runner := NewRunner(taskStore, gen, notifier, RunnerConfig{WorkerCount: 1, QueueSize: 10}, nil)
	require.NoError(t, runner.Start())
	defer runner.Stop()

	seedPending(t, taskStore, "bad")
	seedPending(t, taskStore, "good")
	require.NoError(t, runner.Submit("bad"))
	require.NoError(t, runner.Submit("good"))

	first := notifier.wait(t)
	assert.Equal(t, "bad", first.taskID)
	assert.Equal(t, domain.TaskStatusFailed, first.status)
	assert.Contains(t, first.errMsg, "internal error")

	// The same worker survives to process the next task.
	second := notifier.wait(t)
	assert.Equal(t, "good", second.taskID)
	assert.Equal(t, domain.TaskStatusCompleted, second.status)
}

func TestRunnerSkipsTerminalTask(t *testing.T) {
	taskStore := memory.NewTaskStore()
	notifier := newMockNotifier()
	gen := &mockGenerator{
		generate: func(_ context.Context, taskID, _ string) (string, error) {
			return "ref-" + taskID, nil
		},
	}

	seedPending(t, taskStore, "done")
	status := domain.TaskStatusCompleted
	at := time.Now().UTC()
	_, err := taskStore.Update(context.Background(), "done", store.TaskUpdate{
		Status:      &status,
		CompletedAt: &at,
	})
	require.NoError(t, err)

	seedPending(t, taskStore, "fresh")

	runner := NewRunner(taskStore, gen, notifier, RunnerConfig{WorkerCount: 1, QueueSize: 10}, nil)
	require.NoError(t, runner.Start())
	defer runner.Stop()

	require.NoError(t, runner.Submit("done"))
	require.NoError(t, runner.Submit("fresh"))

	// Only the fresh task produces an outcome; the terminal one is skipped.
	got := notifier.wait(t)
	assert.Equal(t, "fresh", got.taskID)

	select {
	case extra := <-notifier.outcomes:
		t.Fatalf("unexpected outcome for terminal task: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRunnerRecoverRequeuesUnfinishedTasks(t *testing.T) {
	taskStore := memory.NewTaskStore()
	notifier := newMockNotifier()
	gen := &mockGenerator{
		generate: func(_ context.Context, taskID, _ string) (string, error) {
			return "ref-" + taskID, nil
		},
	}

	// A pending row and a row stranded in processing by a crash.
	seedPending(t, taskStore, "pending-1")
	seedPending(t, taskStore, "stranded-1")
	require.NoError(t, taskStore.MarkProcessing(context.Background(), "stranded-1"))

	runner := NewRunner(taskStore, gen, notifier, RunnerConfig{WorkerCount: 2, QueueSize: 10}, nil)
	require.NoError(t, runner.Start())
	defer runner.Stop()

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		got := notifier.wait(t)
		assert.Equal(t, domain.TaskStatusCompleted, got.status)
		seen[got.taskID] = true
	}
	assert.True(t, seen["pending-1"])
	assert.True(t, seen["stranded-1"])
}
