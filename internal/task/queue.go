// Package task runs generation work in the background. A bounded in-memory
// queue feeds a fixed pool of workers; the task store remains the durable
// record, so queued work lost to a restart is recovered from the store.
package task

import (
	"errors"
	"sync"
)

// Queue errors.
var (
	// ErrQueueFull is returned when the queue cannot accept more tasks.
	ErrQueueFull = errors.New("task queue is full")

	// ErrQueueClosed is returned when submitting to a closed queue.
	ErrQueueClosed = errors.New("task queue is closed")
)

// Queue is a bounded in-memory queue of task ids awaiting processing.
// It is safe for concurrent use.
type Queue struct {
	ch     chan string
	mu     sync.Mutex
	closed bool
}

// NewQueue creates a queue holding at most size task ids.
func NewQueue(size int) *Queue {
	return &Queue{
		ch: make(chan string, size),
	}
}

// Enqueue adds a task id without blocking. Returns ErrQueueFull when the
// buffer is at capacity and ErrQueueClosed after Close.
func (q *Queue) Enqueue(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- taskID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Channel returns the read side of the queue for workers.
func (q *Queue) Channel() <-chan string {
	return q.ch
}

// Close stops the queue. Pending ids remain readable; further Enqueue calls
// fail with ErrQueueClosed. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
