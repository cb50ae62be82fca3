package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEnqueue(t *testing.T) {
	queue := NewQueue(2)

	require.NoError(t, queue.Enqueue("t1"))
	require.NoError(t, queue.Enqueue("t2"))

	err := queue.Enqueue("t3")
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestQueueClose(t *testing.T) {
	queue := NewQueue(2)
	require.NoError(t, queue.Enqueue("t1"))

	queue.Close()
	queue.Close() // idempotent

	err := queue.Enqueue("t2")
	assert.ErrorIs(t, err, ErrQueueClosed)

	// Pending ids remain readable after close.
	id, ok := <-queue.Channel()
	assert.True(t, ok)
	assert.Equal(t, "t1", id)

	_, ok = <-queue.Channel()
	assert.False(t, ok)
}
