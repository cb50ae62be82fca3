// Package notify records task completion outcomes. Successful generations
// are announced over an HTTP callback to the completion webhook; failures,
// and any completion whose delivery fails, are written straight to the task
// store so the terminal state is never lost.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/pictor-api/internal/domain"
	"github.com/phrazzld/pictor-api/internal/metrics"
	"github.com/phrazzld/pictor-api/internal/store"
)

// Notifier publishes terminal task outcomes.
type Notifier interface {
	// Complete reports a successful generation. Implementations must
	// guarantee the outcome is durably recorded even when the primary
	// channel fails; Complete only errors when every path fails.
	Complete(ctx context.Context, taskID, resultRef string, completedAt time.Time) error

	// Fail records a failed generation. This is a local write; no callback
	// is attempted for failures.
	Fail(ctx context.Context, taskID, errMsg string, completedAt time.Time) error
}

// callbackPayload is the wire form posted to the completion webhook.
// Timestamps are ISO-8601 in UTC with a Z suffix.
type callbackPayload struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	ResultRef   string `json:"result_ref"`
	CompletedAt string `json:"completed_at"`
}

// Compile-time check to ensure WebhookNotifier implements Notifier.
var _ Notifier = (*WebhookNotifier)(nil)

// WebhookNotifier posts completions to a callback URL with a bounded
// timeout and no retries. Any transport failure or non-2xx response falls
// back to writing the terminal state directly to the task store.
type WebhookNotifier struct {
	callbackURL string
	client      *http.Client
	taskStore   store.TaskStore
	logger      *slog.Logger
}

// NewWebhookNotifier creates a notifier that posts to callbackURL.
// The timeout bounds a single delivery attempt end to end.
func NewWebhookNotifier(
	callbackURL string,
	timeout time.Duration,
	taskStore store.TaskStore,
	logger *slog.Logger,
) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}

	return &WebhookNotifier{
		callbackURL: callbackURL,
		client:      &http.Client{Timeout: timeout},
		taskStore:   taskStore,
		logger:      logger.With(slog.String("component", "webhook_notifier")),
	}
}

// Complete posts the completion to the callback URL. On any failure it
// writes the terminal state directly to the store instead; the returned
// error is non-nil only when that fallback write fails too.
func (n *WebhookNotifier) Complete(
	ctx context.Context,
	taskID, resultRef string,
	completedAt time.Time,
) error {
	log := n.logger.With(slog.String("task_id", taskID))

	if err := n.post(ctx, taskID, resultRef, completedAt); err != nil {
		log.Warn("callback delivery failed, falling back to direct store write",
			slog.String("error", err.Error()))
		metrics.IncWebhookFallback()
		return n.writeTerminal(ctx, taskID, domain.TaskStatusCompleted, &resultRef, nil, completedAt)
	}

	log.Debug("completion callback delivered")
	metrics.IncWebhookDelivered()
	return nil
}

// Fail records a failed generation directly in the store. Failures stay
// local; the webhook only carries successful completions.
func (n *WebhookNotifier) Fail(
	ctx context.Context,
	taskID, errMsg string,
	completedAt time.Time,
) error {
	return n.writeTerminal(ctx, taskID, domain.TaskStatusFailed, nil, &errMsg, completedAt)
}

// post performs the single HTTP delivery attempt.
func (n *WebhookNotifier) post(
	ctx context.Context,
	taskID, resultRef string,
	completedAt time.Time,
) error {
	payload := callbackPayload{
		ID:          taskID,
		Status:      string(domain.TaskStatusCompleted),
		ResultRef:   resultRef,
		CompletedAt: completedAt.UTC().Format(time.RFC3339Nano),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		n.callbackURL,
		bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("failed to build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}

	return nil
}

// writeTerminal records a terminal outcome in the task store, bypassing the
// webhook. The write is idempotent against a callback that did land: a task
// already terminal is left as is.
func (n *WebhookNotifier) writeTerminal(
	ctx context.Context,
	taskID string,
	status domain.TaskStatus,
	resultRef, errMsg *string,
	completedAt time.Time,
) error {
	current, err := n.taskStore.GetByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("terminal write failed to load task: %w", err)
	}
	if current.IsTerminal() {
		n.logger.Debug("task already terminal, skipping write",
			slog.String("task_id", taskID))
		return nil
	}

	at := completedAt.UTC()
	update := store.TaskUpdate{
		Status:      &status,
		ResultRef:   resultRef,
		Error:       errMsg,
		CompletedAt: &at,
	}

	if _, err := n.taskStore.Update(ctx, taskID, update); err != nil {
		return fmt.Errorf("terminal write failed: %w", err)
	}

	n.logger.Info("terminal state recorded via direct store write",
		slog.String("task_id", taskID),
		slog.String("status", string(status)))
	return nil
}
