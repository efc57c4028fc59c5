package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	retry "github.com/avast/retry-go/v4"

	"github.com/vietddude/sweepwatch/internal/core/domain"
)

// Webhook POSTs events as JSON. 5xx and transport errors are retried with
// exponential backoff; 4xx responses are not.
type Webhook struct {
	url      string
	client   *http.Client
	attempts uint
	delay    time.Duration
	maxDelay time.Duration
}

// WebhookOption configures a Webhook.
type WebhookOption func(*Webhook)

func WithAttempts(n uint) WebhookOption {
	return func(w *Webhook) { w.attempts = n }
}

func WithDelay(delay, maxDelay time.Duration) WebhookOption {
	return func(w *Webhook) {
		w.delay = delay
		w.maxDelay = maxDelay
	}
}

// NewWebhook creates a webhook sink. Defaults: 3 attempts, 1s base delay, 5s max delay.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:      url,
		client:   &http.Client{Timeout: 5 * time.Second},
		attempts: 3,
		delay:    1 * time.Second,
		maxDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Notify(ctx context.Context, e domain.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return retry.Do(
		func() error { return w.post(ctx, body) },
		retry.Attempts(w.attempts),
		retry.Delay(w.delay),
		retry.MaxDelay(w.maxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook call: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	default:
		return retry.Unrecoverable(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
}
