package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/flexwatch/flexwatch/internal/config"
	"github.com/flexwatch/flexwatch/internal/notify/domain"
)

// Sink delivers a decided alert event. Delivery is best-effort; callers
// log failures and never retry.
type Sink interface {
	Send(ctx context.Context, event domain.AlertEvent) error
}

// NewSink returns the webhook sink when notifications are configured,
// otherwise a no-op sink.
func NewSink(cfg config.Config, log *zap.Logger) Sink {
	if !cfg.Notify.Enabled || cfg.Notify.WebhookURL == "" {
		return noopSink{}
	}
	return NewWebhookSink(cfg, log)
}

type noopSink struct{}

func (noopSink) Send(context.Context, domain.AlertEvent) error { return nil }

// WebhookSink posts alert events to a Teams-compatible webhook as an
// Adaptive Card.
type WebhookSink struct {
	url    string
	client *http.Client
	log    *zap.Logger
}

// NewWebhookSink builds a webhook sink with the configured timeout.
func NewWebhookSink(cfg config.Config, log *zap.Logger) *WebhookSink {
	return &WebhookSink{
		url:    cfg.Notify.WebhookURL,
		client: &http.Client{Timeout: cfg.Notify.WebhookTimeout},
		log:    log.Named("webhook"),
	}
}

// Send posts the event. A non-2xx response is an error carrying the
// status and a response body excerpt.
func (s *WebhookSink) Send(ctx context.Context, event domain.AlertEvent) error {
	payload, err := json.Marshal(adaptiveCard(event))
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}

	s.log.Debug("alert delivered",
		zap.String("kind", string(event.Kind)),
		zap.String("key", event.Key),
	)
	return nil
}

func adaptiveCard(event domain.AlertEvent) map[string]any {
	body := []map[string]any{
		{
			"type":   "TextBlock",
			"size":   "Medium",
			"weight": "Bolder",
			"text":   event.Title,
		},
		{
			"type": "TextBlock",
			"text": event.Body,
			"wrap": true,
		},
	}

	content := map[string]any{
		"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
		"type":    "AdaptiveCard",
		"version": "1.2",
		"body":    body,
	}
	if event.Link != "" {
		content["actions"] = []map[string]any{
			{
				"type":  "Action.OpenUrl",
				"title": "Open",
				"url":   event.Link,
			},
		}
	}

	return map[string]any{
		"type": "message",
		"attachments": []map[string]any{
			{
				"contentType": "application/vnd.microsoft.card.adaptive",
				"content":     content,
			},
		},
	}
}
