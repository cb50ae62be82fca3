package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/pictor-api/internal/domain"
	"github.com/phrazzld/pictor-api/internal/platform/memory"
	"github.com/phrazzld/pictor-api/internal/store"
)

func seedTask(
	t *testing.T,
	s store.TaskStore,
	id string,
	sessionRef string,
	status domain.TaskStatus,
) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(id, "prompt "+id, &sessionRef, nil)
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), task))

	if status != domain.TaskStatusPending {
		update := store.TaskUpdate{Status: &status}
		if status.IsTerminal() {
			at := time.Now().UTC()
			update.CompletedAt = &at
		}
		task, err = s.Update(context.Background(), id, update)
		require.NoError(t, err)
	}
	return task
}

func TestReconcilerSync(t *testing.T) {
	ctx := context.Background()
	taskStore := memory.NewTaskStore()
	cache := NewCache(DefaultMaxEntries)
	reconciler := NewReconciler(taskStore, cache, nil)

	// Store truth: t1 completed behind the cache's back, t2 still pending.
	t1 := seedTask(t, taskStore, "t1", "conv-1", domain.TaskStatusCompleted)
	t2 := seedTask(t, taskStore, "t2", "conv-1", domain.TaskStatusPending)

	// Cache still believes both are pending.
	stale := SnapshotFromTask(t1)
	stale.Status = statusPtr(domain.TaskStatusPending)
	stale.CompletedAt = nil
	cache.Upsert("conv-1", stale)
	cache.Upsert("conv-1", SnapshotFromTask(t2))

	result, err := reconciler.Sync(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.Updated)
	assert.Equal(t, 1, result.Completed)
	assert.Equal(t, 1, result.StillPending)

	snap, ok := cache.Get("conv-1", "t1")
	require.True(t, ok)
	require.NotNil(t, snap.Status)
	assert.Equal(t, domain.TaskStatusCompleted, *snap.Status)
	assert.NotNil(t, snap.CompletedAt)
}

func TestReconcilerSyncIdempotent(t *testing.T) {
	ctx := context.Background()
	taskStore := memory.NewTaskStore()
	cache := NewCache(DefaultMaxEntries)
	reconciler := NewReconciler(taskStore, cache, nil)

	t1 := seedTask(t, taskStore, "t1", "conv-1", domain.TaskStatusCompleted)
	stale := SnapshotFromTask(t1)
	stale.Status = statusPtr(domain.TaskStatusPending)
	cache.Upsert("conv-1", stale)

	first, err := reconciler.Sync(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Completed)

	// Everything is terminal now; a second pass has nothing to refresh.
	second, err := reconciler.Sync(ctx, "conv-1")
	require.NoError(t, err)
	assert.Zero(t, second.Updated)
	assert.Zero(t, second.Completed)
	assert.Zero(t, second.StillPending)
}

func TestReconcilerSyncEmptySession(t *testing.T) {
	reconciler := NewReconciler(memory.NewTaskStore(), NewCache(DefaultMaxEntries), nil)

	result, err := reconciler.Sync(context.Background(), "conv-unknown")
	require.NoError(t, err)
	assert.Equal(t, SyncResult{}, result)
}

func TestReconcilerCheck(t *testing.T) {
	ctx := context.Background()
	taskStore := memory.NewTaskStore()
	cache := NewCache(DefaultMaxEntries)
	reconciler := NewReconciler(taskStore, cache, nil)

	seedTask(t, taskStore, "t1", "conv-1", domain.TaskStatusCompleted)

	t.Run("inserts a snapshot the cache has never seen", func(t *testing.T) {
		snap, err := reconciler.Check(ctx, "conv-1", "t1")
		require.NoError(t, err)
		require.NotNil(t, snap.Status)
		assert.Equal(t, domain.TaskStatusCompleted, *snap.Status)

		_, ok := cache.Get("conv-1", "t1")
		assert.True(t, ok)
	})

	t.Run("unknown task propagates not found", func(t *testing.T) {
		_, err := reconciler.Check(ctx, "conv-1", "missing")
		assert.ErrorIs(t, err, store.ErrTaskNotFound)
	})
}
