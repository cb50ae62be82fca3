package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/phrazzld/pictor-api/internal/platform/logger"
	"github.com/phrazzld/pictor-api/internal/store"
)

// SyncResult summarizes one reconciliation pass over a session.
type SyncResult struct {
	// Updated counts snapshots refreshed from the store during the pass.
	Updated int `json:"updated"`
	// Completed counts snapshots that reached a terminal status during the pass.
	Completed int `json:"completed"`
	// StillPending counts snapshots that remain non-terminal after the pass.
	StillPending int `json:"still_pending"`
}

// Reconciler refreshes session snapshots from the authoritative task store.
// It repairs drift caused by missed completion callbacks: a poll of the
// store always reflects terminal outcomes, whether or not the webhook
// delivery succeeded.
type Reconciler struct {
	taskStore store.TaskStore
	cache     *Cache
	logger    *slog.Logger
}

// NewReconciler creates a reconciler over the given store and cache.
func NewReconciler(taskStore store.TaskStore, cache *Cache, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		taskStore: taskStore,
		cache:     cache,
		logger:    log.With(slog.String("component", "session_reconciler")),
	}
}

// Sync re-fetches every non-terminal snapshot in the session from the store
// and merges the fresh rows into the cache. Tasks missing from the store are
// left untouched; Sync reports what it could refresh and returns the first
// store error it hits.
func (r *Reconciler) Sync(ctx context.Context, sessionRef string) (SyncResult, error) {
	log := logger.FromContextOrDefault(ctx, r.logger).With(
		slog.String("session_ref", sessionRef))

	var result SyncResult
	for _, snap := range r.cache.NonTerminal(sessionRef) {
		task, err := r.taskStore.GetByID(ctx, snap.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Warn("cached task missing from store",
					slog.String("task_id", snap.ID))
				result.StillPending++
				continue
			}
			return result, err
		}

		r.cache.Upsert(sessionRef, SnapshotFromTask(task))
		result.Updated++
		if task.IsTerminal() {
			result.Completed++
		} else {
			result.StillPending++
		}
	}

	log.Debug("session synchronized",
		slog.Int("updated", result.Updated),
		slog.Int("completed", result.Completed),
		slog.Int("still_pending", result.StillPending))
	return result, nil
}

// Check refreshes a single task's snapshot from the store, inserting it into
// the session if the cache has never seen it. Returns the merged snapshot or
// store.ErrTaskNotFound when the task does not exist anywhere.
func (r *Reconciler) Check(ctx context.Context, sessionRef, taskID string) (Snapshot, error) {
	task, err := r.taskStore.GetByID(ctx, taskID)
	if err != nil {
		return Snapshot{}, err
	}

	r.cache.Upsert(sessionRef, SnapshotFromTask(task))

	snap, ok := r.cache.Get(sessionRef, taskID)
	if !ok {
		// Eviction can race the upsert when the session is at capacity and
		// the task is terminal; fall back to a snapshot built from the row.
		return SnapshotFromTask(task), nil
	}
	return snap, nil
}
