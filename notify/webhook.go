// Package notify posts the run summary to an optional completion webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"telemetry-rollup/logger"

	models "telemetry-rollup/database/models_pkg"
)

const maxAttempts = 3

var retryDelay = 2 * time.Second

// Webhook delivers run-completion notifications. A nil receiver or empty URL
// disables delivery entirely.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook returns nil when no URL is configured.
func NewWebhook(url string) *Webhook {
	if url == "" {
		return nil
	}
	return &Webhook{
		url: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NotifyRunComplete POSTs the run summary as JSON. Delivery failures are
// logged and swallowed; a finished run never fails because of its webhook.
func (w *Webhook) NotifyRunComplete(ctx context.Context, summary *models.RunSummary) {
	if w == nil || summary == nil {
		return
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		logger.Get().Warn().Err(err).Msg("⚠️  Failed to marshal webhook payload")
		return
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
		if err != nil {
			logger.Get().Warn().Err(err).Msg("⚠️  Failed to build webhook request")
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "Telemetry-Rollup/1.0")

		resp, err := w.client.Do(req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			resp.Body.Close()
			logger.Get().Info().Str("run_hash", summary.RunHash).Msg("🔔 Run webhook delivered")
			return
		}
		if resp != nil {
			resp.Body.Close()
		}
		if err != nil {
			logger.Get().Warn().Err(err).Int("attempt", attempt).Msg("⚠️  Run webhook delivery failed")
		} else {
			logger.Get().Warn().Int("status", resp.StatusCode).Int("attempt", attempt).Msg("⚠️  Run webhook delivery failed")
		}

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
		}
	}
}
