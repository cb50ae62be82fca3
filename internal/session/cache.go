// Package session maintains per-conversation views of generation tasks.
// The cache holds partial snapshots mirrored from the task store; the store
// row stays authoritative and the cache is refreshed from it, never the
// other way around.
package session

import (
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/pictor-api/internal/domain"
)

// DefaultMaxEntries caps how many task snapshots a single session retains.
const DefaultMaxEntries = 20

// Snapshot is a partial view of a task held in a session. All fields except
// the id are optional; a merge only applies the fields a snapshot carries,
// so a sparse update can never erase data a previous update established.
type Snapshot struct {
	ID          string
	Prompt      *string
	Status      *domain.TaskStatus
	ResultRef   *string
	Error       *string
	CreatedAt   *time.Time
	CompletedAt *time.Time
	RunRef      *string
}

// IsTerminal reports whether the snapshot shows a terminal status.
// Snapshots without a status are treated as non-terminal.
func (s *Snapshot) IsTerminal() bool {
	return s.Status != nil && s.Status.IsTerminal()
}

// merge applies the set fields of incoming onto s. Nil fields in incoming
// leave the existing values untouched.
func (s *Snapshot) merge(incoming Snapshot) {
	if incoming.Prompt != nil {
		s.Prompt = incoming.Prompt
	}
	if incoming.Status != nil {
		s.Status = incoming.Status
	}
	if incoming.ResultRef != nil {
		s.ResultRef = incoming.ResultRef
	}
	if incoming.Error != nil {
		s.Error = incoming.Error
	}
	if incoming.CreatedAt != nil {
		s.CreatedAt = incoming.CreatedAt
	}
	if incoming.CompletedAt != nil {
		s.CompletedAt = incoming.CompletedAt
	}
	if incoming.RunRef != nil {
		s.RunRef = incoming.RunRef
	}
}

// SnapshotFromTask builds a full snapshot from an authoritative task row.
func SnapshotFromTask(task *domain.Task) Snapshot {
	prompt := task.Prompt
	status := task.Status
	createdAt := task.CreatedAt

	return Snapshot{
		ID:          task.ID,
		Prompt:      &prompt,
		Status:      &status,
		ResultRef:   task.ResultRef,
		Error:       task.Error,
		CreatedAt:   &createdAt,
		CompletedAt: task.CompletedAt,
		RunRef:      task.RunRef,
	}
}

// Cache is a thread-safe collection of task snapshots keyed by session
// reference. Each session is bounded by maxEntries; eviction keeps every
// non-terminal snapshot and the most recently created terminal ones.
type Cache struct {
	mu         sync.RWMutex
	sessions   map[string]map[string]*Snapshot
	maxEntries int
}

// NewCache creates a session cache with the given per-session entry cap.
// A cap below one falls back to DefaultMaxEntries.
func NewCache(maxEntries int) *Cache {
	if maxEntries < 1 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		sessions:   make(map[string]map[string]*Snapshot),
		maxEntries: maxEntries,
	}
}

// Upsert merges the snapshot into the session, creating the session and the
// entry as needed, then enforces the entry cap.
func (c *Cache) Upsert(sessionRef string, incoming Snapshot) {
	if sessionRef == "" || incoming.ID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entries, ok := c.sessions[sessionRef]
	if !ok {
		entries = make(map[string]*Snapshot)
		c.sessions[sessionRef] = entries
	}

	existing, ok := entries[incoming.ID]
	if !ok {
		existing = &Snapshot{ID: incoming.ID}
		entries[incoming.ID] = existing
	}
	existing.merge(incoming)

	c.evictLocked(sessionRef)
}

// Get returns the snapshot for a task in a session, or false when absent.
// The returned snapshot is a copy.
func (c *Cache) Get(sessionRef, taskID string) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries, ok := c.sessions[sessionRef]
	if !ok {
		return Snapshot{}, false
	}
	snap, ok := entries[taskID]
	if !ok {
		return Snapshot{}, false
	}
	return *snap, true
}

// Snapshots returns copies of every snapshot in a session, newest first.
// Snapshots without a creation time sort last.
func (c *Cache) Snapshots(sessionRef string) []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := c.sessions[sessionRef]
	snaps := make([]Snapshot, 0, len(entries))
	for _, snap := range entries {
		snaps = append(snaps, *snap)
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snapshotNewer(&snaps[i], &snaps[j])
	})

	return snaps
}

// NonTerminal returns copies of the session's snapshots that have not
// reached a terminal status.
func (c *Cache) NonTerminal(sessionRef string) []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entries := c.sessions[sessionRef]
	snaps := make([]Snapshot, 0, len(entries))
	for _, snap := range entries {
		if !snap.IsTerminal() {
			snaps = append(snaps, *snap)
		}
	}
	return snaps
}

// Evict enforces the per-session entry cap immediately.
func (c *Cache) Evict(sessionRef string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(sessionRef)
}

// evictLocked trims a session down to maxEntries. Every non-terminal
// snapshot survives regardless of the cap; terminal snapshots are dropped
// oldest first until the session fits. Callers must hold the write lock.
func (c *Cache) evictLocked(sessionRef string) {
	entries := c.sessions[sessionRef]
	if len(entries) <= c.maxEntries {
		return
	}

	terminal := make([]*Snapshot, 0, len(entries))
	nonTerminal := 0
	for _, snap := range entries {
		if snap.IsTerminal() {
			terminal = append(terminal, snap)
		} else {
			nonTerminal++
		}
	}

	keep := c.maxEntries - nonTerminal
	if keep < 0 {
		keep = 0
	}
	if len(terminal) <= keep {
		return
	}

	// Newest terminal snapshots survive.
	sort.Slice(terminal, func(i, j int) bool {
		return snapshotNewer(terminal[i], terminal[j])
	})
	for _, snap := range terminal[keep:] {
		delete(entries, snap.ID)
	}
}

// snapshotNewer orders snapshots by creation time descending, with missing
// timestamps last and the id as a stable tiebreak.
func snapshotNewer(a, b *Snapshot) bool {
	switch {
	case a.CreatedAt == nil && b.CreatedAt == nil:
		return a.ID < b.ID
	case a.CreatedAt == nil:
		return false
	case b.CreatedAt == nil:
		return true
	case a.CreatedAt.Equal(*b.CreatedAt):
		return a.ID < b.ID
	default:
		return a.CreatedAt.After(*b.CreatedAt)
	}
}
