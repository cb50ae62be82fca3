package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/pictor-api/internal/domain"
	"github.com/phrazzld/pictor-api/internal/generation"
	"github.com/phrazzld/pictor-api/internal/metrics"
	"github.com/phrazzld/pictor-api/internal/notify"
	"github.com/phrazzld/pictor-api/internal/store"
)

// RunnerConfig holds configuration for the task runner.
type RunnerConfig struct {
	// WorkerCount determines how many concurrent workers process tasks.
	WorkerCount int

	// QueueSize determines the buffer size for the in-memory task queue.
	QueueSize int
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount: 2,
		QueueSize:   100,
	}
}

// Runner manages background processing of generation tasks. Workers pull
// task ids from the queue, claim the row with a conditional status
// transition, run the generator, and hand the outcome to the notifier.
type Runner struct {
	taskStore  store.TaskStore
	generator  generation.Generator
	notifier   notify.Notifier
	queue      *Queue
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	config     RunnerConfig
	logger     *slog.Logger
}

// NewRunner creates a new Runner. All collaborators are injected; the
// runner owns only the queue and the worker pool.
func NewRunner(
	taskStore store.TaskStore,
	generator generation.Generator,
	notifier notify.Notifier,
	config RunnerConfig,
	logger *slog.Logger,
) *Runner {
	if config.WorkerCount < 1 {
		config.WorkerCount = DefaultRunnerConfig().WorkerCount
	}
	if config.QueueSize < 1 {
		config.QueueSize = DefaultRunnerConfig().QueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		taskStore:  taskStore,
		generator:  generator,
		notifier:   notifier,
		queue:      NewQueue(config.QueueSize),
		ctx:        ctx,
		cancelFunc: cancel,
		config:     config,
		logger:     logger.With(slog.String("component", "task_runner")),
	}
}

// Submit enqueues a persisted task for processing. The caller must have
// created the store row already; Submit never touches the database.
func (r *Runner) Submit(taskID string) error {
	if err := r.queue.Enqueue(taskID); err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", taskID, err)
	}
	metrics.IncTaskSubmitted()
	return nil
}

// Start recovers unfinished tasks from previous runs and launches the
// worker pool.
func (r *Runner) Start() error {
	if err := r.Recover(r.ctx); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.logger.Info("task runner started",
		slog.Int("worker_count", r.config.WorkerCount),
		slog.Int("queue_size", r.config.QueueSize))
	return nil
}

// Stop gracefully shuts down the runner. In-flight work is canceled; the
// affected rows stay non-terminal and are requeued on the next Start.
func (r *Runner) Stop() {
	r.cancelFunc()
	r.queue.Close()
	r.wg.Wait()
	r.logger.Info("task runner stopped")
}

// Recover requeues every non-terminal task found in the store. Rows stuck
// in processing after a crash are requeued as-is; claiming a task tolerates
// the processing state, so no backward status reset is needed.
func (r *Runner) Recover(ctx context.Context) error {
	requeued := 0
	for _, status := range []domain.TaskStatus{
		domain.TaskStatusPending,
		domain.TaskStatusProcessing,
	} {
		s := status
		_, tasks, err := r.taskStore.ListAll(ctx, store.TaskFilter{Status: &s})
		if err != nil {
			return fmt.Errorf("failed to list %s tasks: %w", status, err)
		}

		for _, t := range tasks {
			if err := r.queue.Enqueue(t.ID); err != nil {
				r.logger.Error("failed to requeue task",
					slog.String("task_id", t.ID),
					slog.String("error", err.Error()))
				continue
			}
			requeued++
		}
	}

	if requeued > 0 {
		r.logger.Info("recovered unfinished tasks", slog.Int("count", requeued))
		metrics.AddTasksRecovered(requeued)
	}
	return nil
}

// worker processes tasks from the queue until the runner stops.
func (r *Runner) worker(id int) {
	defer r.wg.Done()

	log := r.logger.With(slog.Int("worker_id", id))
	log.Debug("starting worker")

	for {
		select {
		case <-r.ctx.Done():
			log.Debug("stopping worker")
			return

		case taskID, ok := <-r.queue.Channel():
			if !ok {
				log.Debug("task queue closed, stopping worker")
				return
			}
			r.processTask(taskID, id)
		}
	}
}

// processTask handles one task end to end. A panic in the generator is
// contained here and recorded as a failed outcome, so a single bad task
// cannot take a worker down.
func (r *Runner) processTask(taskID string, workerID int) {
	log := r.logger.With(
		slog.String("task_id", taskID),
		slog.Int("worker_id", workerID),
	)

	defer func() {
		if p := recover(); p != nil {
			log.Error("panic during task processing", slog.Any("panic", p))
			r.fail(taskID, fmt.Sprintf("internal error: %v", p), log)
		}
	}()

	// Claim the row. A task that is already terminal (another worker won the
	// race, or a callback landed first) is skipped silently.
	if err := r.taskStore.MarkProcessing(r.ctx, taskID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Debug("task not claimable, skipping")
			return
		}
		log.Error("failed to claim task", slog.String("error", err.Error()))
		return
	}

	task, err := r.taskStore.GetByID(r.ctx, taskID)
	if err != nil {
		log.Error("failed to load claimed task", slog.String("error", err.Error()))
		return
	}

	log.Info("processing task")

	resultRef, err := r.generator.Generate(r.ctx, task.ID, task.Prompt)
	if err != nil {
		if r.ctx.Err() != nil {
			// Shutdown, not failure. Leave the row non-terminal so the next
			// start recovers it.
			log.Info("task interrupted by shutdown")
			return
		}

		log.Error("task generation failed", slog.String("error", err.Error()))
		r.fail(taskID, err.Error(), log)
		return
	}

	log.Info("task completed successfully")

	// Outcome delivery must survive runner shutdown.
	ctx := context.WithoutCancel(r.ctx)
	if err := r.notifier.Complete(ctx, taskID, resultRef, time.Now().UTC()); err != nil {
		log.Error("failed to record task completion", slog.String("error", err.Error()))
		return
	}
	metrics.IncTaskTerminal(string(domain.TaskStatusCompleted))
}

// fail records a failed outcome directly through the notifier.
func (r *Runner) fail(taskID, errMsg string, log *slog.Logger) {
	ctx := context.WithoutCancel(r.ctx)
	if err := r.notifier.Fail(ctx, taskID, errMsg, time.Now().UTC()); err != nil {
		log.Error("failed to record task failure", slog.String("error", err.Error()))
		return
	}
	metrics.IncTaskTerminal(string(domain.TaskStatusFailed))
}
