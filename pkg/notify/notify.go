// Package notify delivers run failure events to an external channel.
//
// Delivery is strictly best-effort: a failed notification is logged and
// swallowed, never surfaced as a run failure.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Event is one notification payload.
type Event struct {
	// RunID identifies the run the event belongs to.
	RunID string `json:"run_id"`

	// Status is the run outcome being reported (e.g., "failure").
	Status string `json:"status"`

	// Message is a human-readable summary.
	Message string `json:"message"`

	// Link points at the run's detail page or trace, when available.
	Link string `json:"link,omitempty"`
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, event Event) error

func (f NotifierFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// WebhookNotifier POSTs events as JSON to a configured URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// DefaultTimeout bounds a single webhook delivery.
const DefaultTimeout = 10 * time.Second

// NewWebhook creates a webhook notifier. A zero timeout uses DefaultTimeout.
func NewWebhook(url string, timeout time.Duration) (*WebhookNotifier, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is empty")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}, nil
}

// Notify delivers one event. Non-2xx responses are errors.
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// BestEffort wraps a notifier so delivery failures are logged and swallowed.
type BestEffort struct {
	inner  Notifier
	logger *zap.Logger
}

// NewBestEffort wraps inner. A nil inner yields a notifier that does nothing.
func NewBestEffort(inner Notifier, logger *zap.Logger) *BestEffort {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BestEffort{inner: inner, logger: logger}
}

// Notify always returns nil.
func (b *BestEffort) Notify(ctx context.Context, event Event) error {
	if b.inner == nil {
		return nil
	}
	if err := b.inner.Notify(ctx, event); err != nil {
		b.logger.Warn("Notification delivery failed",
			zap.String("run_id", event.RunID),
			zap.String("status", event.Status),
			zap.Error(err))
	}
	return nil
}
