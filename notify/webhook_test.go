package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	models "telemetry-rollup/database/models_pkg"
)

func TestNotifyRunCompleteDelivers(t *testing.T) {
	var got models.RunSummary
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("payload is not valid JSON: %v", err)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	hook := NewWebhook(server.URL)
	hook.NotifyRunComplete(context.Background(), &models.RunSummary{RunHash: "abc123", Status: "completed"})

	if got.RunHash != "abc123" || got.Status != "completed" {
		t.Errorf("unexpected delivered summary: %+v", got)
	}
}

func TestNotifyRunCompleteRetries(t *testing.T) {
	oldDelay := retryDelay
	retryDelay = time.Millisecond
	defer func() { retryDelay = oldDelay }()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	hook := NewWebhook(server.URL)
	hook.NotifyRunComplete(context.Background(), &models.RunSummary{RunHash: "abc123"})

	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestNewWebhookDisabled(t *testing.T) {
	hook := NewWebhook("")
	if hook != nil {
		t.Fatal("empty URL should disable the webhook")
	}
	// nil receiver must be a safe no-op
	hook.NotifyRunComplete(context.Background(), &models.RunSummary{RunHash: "abc123"})
}
