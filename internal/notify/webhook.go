package notify

import (
	"context"
	"fmt"
	"time"

	"wisefido-doorlock/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// webhookPayload body posted to webhook endpoints
type webhookPayload struct {
	Event       models.StatusChangeEvent `json:"event"`
	Description string                   `json:"description"`
}

// WebhookSink POSTs events to an HTTP endpoint.
type WebhookSink struct {
	httpClient *resty.Client
	url        string
	logger     *zap.Logger
}

func NewWebhookSink(url string, timeout time.Duration, retries int, logger *zap.Logger) *WebhookSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookSink{httpClient: client, url: url, logger: logger}
}

func (s *WebhookSink) Handle(ctx context.Context, ev models.StatusChangeEvent) error {
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(webhookPayload{Event: ev, Description: ev.Description()}).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("failed to call webhook %s: %w", s.url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook %s returned %d", s.url, resp.StatusCode())
	}

	s.logger.Debug("Webhook delivered",
		zap.String("url", s.url),
		zap.String("event_id", ev.EventID),
		zap.Int("status_code", resp.StatusCode()),
	)
	return nil
}
