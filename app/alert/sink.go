package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const deliveryTimeout = 5 * time.Second

// Notifier delivers operator alerts. Delivery is fire-and-forget: a dead
// webhook must never block or fail a collection task.
type Notifier interface {
	Notify(event string, payload map[string]any)
}

type WebhookSink struct {
	url    string
	client *http.Client
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: deliveryTimeout},
	}
}

func (s *WebhookSink) Notify(event string, payload map[string]any) {
	if s.url == "" {
		return
	}

	body := map[string]any{
		"event":     event,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range payload {
		body[k] = v
	}

	go s.deliver(event, body)
}

func (s *WebhookSink) deliver(event string, body map[string]any) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.Error("Failed to encode alert", "event", event, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		slog.Error("Failed to build alert request", "event", event, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Error("Failed to deliver alert", "event", event, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		slog.Error("Failed to deliver alert", "event", event, "error", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}
