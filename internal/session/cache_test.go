package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/pictor-api/internal/domain"
)

func strPtr(s string) *string                          { return &s }
func statusPtr(s domain.TaskStatus) *domain.TaskStatus { return &s }
func timePtr(t time.Time) *time.Time                   { return &t }

func TestCacheUpsertMerge(t *testing.T) {
	cache := NewCache(DefaultMaxEntries)

	created := time.Now().UTC()
	cache.Upsert("conv-1", Snapshot{
		ID:        "t1",
		Prompt:    strPtr("a fruit puree scene"),
		Status:    statusPtr(domain.TaskStatusPending),
		CreatedAt: timePtr(created),
	})

	// A sparse status update must not erase the prompt or creation time.
	cache.Upsert("conv-1", Snapshot{
		ID:     "t1",
		Status: statusPtr(domain.TaskStatusProcessing),
	})

	snap, ok := cache.Get("conv-1", "t1")
	require.True(t, ok)
	require.NotNil(t, snap.Prompt)
	assert.Equal(t, "a fruit puree scene", *snap.Prompt)
	require.NotNil(t, snap.Status)
	assert.Equal(t, domain.TaskStatusProcessing, *snap.Status)
	require.NotNil(t, snap.CreatedAt)
	assert.True(t, snap.CreatedAt.Equal(created))
}

func TestCacheUpsertIgnoresBlankKeys(t *testing.T) {
	cache := NewCache(DefaultMaxEntries)
	cache.Upsert("", Snapshot{ID: "t1"})
	cache.Upsert("conv-1", Snapshot{})
	assert.Empty(t, cache.Snapshots("conv-1"))
}

func TestCacheSessionsAreIsolated(t *testing.T) {
	cache := NewCache(DefaultMaxEntries)
	cache.Upsert("conv-1", Snapshot{ID: "t1", Status: statusPtr(domain.TaskStatusPending)})
	cache.Upsert("conv-2", Snapshot{ID: "t2", Status: statusPtr(domain.TaskStatusPending)})

	_, ok := cache.Get("conv-1", "t2")
	assert.False(t, ok)
	assert.Len(t, cache.Snapshots("conv-1"), 1)
	assert.Len(t, cache.Snapshots("conv-2"), 1)
}

func TestCacheEviction(t *testing.T) {
	// 5 non-terminal and 30 terminal snapshots at cap 20: every non-terminal
	// survives, plus the 15 most recently created terminal ones.
	cache := NewCache(20)
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		cache.Upsert("conv-1", Snapshot{
			ID:        fmt.Sprintf("pending-%d", i),
			Status:    statusPtr(domain.TaskStatusPending),
			CreatedAt: timePtr(base.Add(time.Duration(i) * time.Second)),
		})
	}
	for i := 0; i < 30; i++ {
		cache.Upsert("conv-1", Snapshot{
			ID:        fmt.Sprintf("done-%d", i),
			Status:    statusPtr(domain.TaskStatusCompleted),
			CreatedAt: timePtr(base.Add(time.Duration(100+i) * time.Second)),
		})
	}

	snaps := cache.Snapshots("conv-1")
	assert.Len(t, snaps, 20)

	nonTerminal := 0
	for _, snap := range snaps {
		if !snap.IsTerminal() {
			nonTerminal++
		}
	}
	assert.Equal(t, 5, nonTerminal, "all non-terminal snapshots survive eviction")

	// The oldest terminal snapshots are gone, the newest remain.
	_, ok := cache.Get("conv-1", "done-0")
	assert.False(t, ok)
	_, ok = cache.Get("conv-1", "done-29")
	assert.True(t, ok)
	_, ok = cache.Get("conv-1", "done-15")
	assert.True(t, ok)
	_, ok = cache.Get("conv-1", "done-14")
	assert.False(t, ok)
}

func TestCacheSnapshotsOrdering(t *testing.T) {
	cache := NewCache(DefaultMaxEntries)
	base := time.Now().UTC()

	cache.Upsert("conv-1", Snapshot{ID: "old", CreatedAt: timePtr(base)})
	cache.Upsert("conv-1", Snapshot{ID: "new", CreatedAt: timePtr(base.Add(time.Minute))})
	cache.Upsert("conv-1", Snapshot{ID: "undated"})

	snaps := cache.Snapshots("conv-1")
	require.Len(t, snaps, 3)
	assert.Equal(t, "new", snaps[0].ID)
	assert.Equal(t, "old", snaps[1].ID)
	assert.Equal(t, "undated", snaps[2].ID)
}

func TestSnapshotFromTask(t *testing.T) {
	sessionRef := "conv-1"
	task, err := domain.NewTask("t1", "a red balloon", &sessionRef, nil)
	require.NoError(t, err)

	snap := SnapshotFromTask(task)
	assert.Equal(t, "t1", snap.ID)
	require.NotNil(t, snap.Prompt)
	assert.Equal(t, "a red balloon", *snap.Prompt)
	require.NotNil(t, snap.Status)
	assert.Equal(t, domain.TaskStatusPending, *snap.Status)
	assert.Nil(t, snap.CompletedAt)
	assert.False(t, snap.IsTerminal())
}
