// Package notify posts webhook notifications for terminal job events.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackzampolin/narrator/internal/store"
)

const webhookTimeout = 30 * time.Second

// Notifier sends job lifecycle webhooks when enabled in settings.
type Notifier struct {
	settings   *store.Settings
	httpClient *http.Client
	logger     *slog.Logger
}

// NewNotifier creates a webhook notifier driven by runtime settings.
func NewNotifier(settings *store.Settings, logger *slog.Logger) *Notifier {
	return &Notifier{
		settings:   settings,
		httpClient: &http.Client{Timeout: webhookTimeout},
		logger:     logger.With("component", "notify"),
	}
}

// JobCompleted notifies the configured webhook of a successful job.
func (n *Notifier) JobCompleted(ctx context.Context, job *store.Job) {
	url := n.settings.Get("webhook_url")
	if url == "" || !n.settings.GetBool("webhook_on_complete") {
		return
	}
	payload := map[string]any{
		"event":  "job_completed",
		"job_id": job.ID,
		"title":  job.Title,
		"author": job.Author,
	}
	if job.OutputPath != nil {
		payload["output_path"] = *job.OutputPath
	}
	if job.DurationSec != nil {
		payload["duration_seconds"] = *job.DurationSec
	}
	n.send(ctx, url, payload)
}

// JobFailed notifies the configured webhook of a failed job.
func (n *Notifier) JobFailed(ctx context.Context, job *store.Job) {
	url := n.settings.Get("webhook_url")
	if url == "" || !n.settings.GetBool("webhook_on_failure") {
		return
	}
	payload := map[string]any{
		"event":  "job_failed",
		"job_id": job.ID,
		"title":  job.Title,
		"author": job.Author,
	}
	if job.ErrorMessage != nil {
		payload["error"] = *job.ErrorMessage
	}
	n.send(ctx, url, payload)
}

func (n *Notifier) send(ctx context.Context, url string, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Warn("webhook payload marshal failed", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("webhook request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn("webhook failed", "url", url, "error", err)
		return
	}
	resp.Body.Close()
	n.logger.Info("webhook sent", "url", url, "status", resp.StatusCode)
}
