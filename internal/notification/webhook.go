// File: internal/notification/webhook.go
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/smartdevs17/rollover-caller/pkg/utils"
)

// WebhookNotifier POSTs attempt events as JSON. A failed delivery is not retried.
type WebhookNotifier struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
}

// NewWebhookNotifier creates a webhook notifier for url
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url: url,
		headers: map[string]string{
			"Content-Type": "application/json",
			"User-Agent":   EventSource,
		},
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Name implements Notifier
func (w *WebhookNotifier) Name() string {
	return "webhook"
}

// Send implements Notifier
func (w *WebhookNotifier) Send(ctx context.Context, event *AttemptEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeNotification, "Failed to marshal webhook payload", err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeNotification, "Failed to create webhook request", err.Error())
	}
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("X-Rollover-Event", event.Type)
	req.Header.Set("X-Rollover-Attempt", event.Attempt.ID)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeNotification, "Webhook request failed", err.Error())
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return utils.NewAppError(utils.ErrCodeNotification, "Webhook rejected",
			fmt.Sprintf("status %d from %s", resp.StatusCode, w.url))
	}
	return nil
}

// Close implements Notifier
func (w *WebhookNotifier) Close() error {
	w.httpClient.CloseIdleConnections()
	return nil
}
