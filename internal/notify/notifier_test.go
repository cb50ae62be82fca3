package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/pictor-api/internal/domain"
	"github.com/phrazzld/pictor-api/internal/platform/memory"
	"github.com/phrazzld/pictor-api/internal/store"
)

func seedPending(t *testing.T, s store.TaskStore, id string) {
	t.Helper()
	task, err := domain.NewTask(id, "prompt "+id, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Create(context.Background(), task))
}

func TestCompleteDeliversCallback(t *testing.T) {
	taskStore := memory.NewTaskStore()
	seedPending(t, taskStore, "t1")

	var received callbackPayload
	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(body, &received))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			w.WriteHeader(http.StatusOK)
		}),
	)
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, 2*time.Second, taskStore, nil)

	completedAt := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	err := notifier.Complete(context.Background(), "t1", "https://cdn.example.com/t1.png", completedAt)
	require.NoError(t, err)

	assert.Equal(t, "t1", received.ID)
	assert.Equal(t, "completed", received.Status)
	assert.Equal(t, "https://cdn.example.com/t1.png", received.ResultRef)
	assert.Equal(t, "2026-08-30T12:00:00Z", received.CompletedAt)

	// The callback path owns the store write; delivery leaves the row alone.
	row, err := taskStore.GetByID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, row.Status)
}

func TestCompleteFallsBackOnServerError(t *testing.T) {
	taskStore := memory.NewTaskStore()
	seedPending(t, taskStore, "t1")

	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}),
	)
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, 2*time.Second, taskStore, nil)

	err := notifier.Complete(context.Background(), "t1", "ref-t1", time.Now().UTC())
	require.NoError(t, err)

	row, err := taskStore.GetByID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, row.Status)
	require.NotNil(t, row.ResultRef)
	assert.Equal(t, "ref-t1", *row.ResultRef)
	assert.NotNil(t, row.CompletedAt)
}

func TestCompleteFallsBackOnConnectError(t *testing.T) {
	taskStore := memory.NewTaskStore()
	seedPending(t, taskStore, "t1")

	// A server that is already closed refuses connections.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	notifier := NewWebhookNotifier(server.URL, time.Second, taskStore, nil)

	err := notifier.Complete(context.Background(), "t1", "ref-t1", time.Now().UTC())
	require.NoError(t, err)

	row, err := taskStore.GetByID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, row.Status)
}

func TestFallbackIsIdempotentAgainstLandedCallback(t *testing.T) {
	taskStore := memory.NewTaskStore()
	seedPending(t, taskStore, "t1")

	// The callback landed and wrote the row, but the notifier saw an error
	// (e.g. response timeout) and falls back anyway.
	status := domain.TaskStatusCompleted
	ref := "ref-from-callback"
	at := time.Now().UTC().Add(-time.Minute)
	_, err := taskStore.Update(context.Background(), "t1", store.TaskUpdate{
		Status:      &status,
		ResultRef:   &ref,
		CompletedAt: &at,
	})
	require.NoError(t, err)

	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}),
	)
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, time.Second, taskStore, nil)
	require.NoError(t, notifier.Complete(context.Background(), "t1", "ref-from-fallback", time.Now().UTC()))

	row, err := taskStore.GetByID(context.Background(), "t1")
	require.NoError(t, err)
	require.NotNil(t, row.ResultRef)
	assert.Equal(t, "ref-from-callback", *row.ResultRef, "terminal row must not be overwritten")
	require.NotNil(t, row.CompletedAt)
	assert.True(t, row.CompletedAt.Equal(at))
}

func TestFailWritesDirectly(t *testing.T) {
	taskStore := memory.NewTaskStore()
	seedPending(t, taskStore, "t1")

	// No server at all: failures never touch the network.
	notifier := NewWebhookNotifier("http://127.0.0.1:0/webhook", time.Second, taskStore, nil)

	err := notifier.Fail(context.Background(), "t1", "backend unavailable", time.Now().UTC())
	require.NoError(t, err)

	row, err := taskStore.GetByID(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, row.Status)
	require.NotNil(t, row.Error)
	assert.Equal(t, "backend unavailable", *row.Error)
	assert.NotNil(t, row.CompletedAt)
}

func TestFallbackFailsForUnknownTask(t *testing.T) {
	taskStore := memory.NewTaskStore()

	server := httptest.NewServer(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}),
	)
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, time.Second, taskStore, nil)

	err := notifier.Complete(context.Background(), "ghost", "ref", time.Now().UTC())
	assert.ErrorIs(t, err, store.ErrNotFound)
}
