package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/portalwatch/internal/interfaces"
	"golang.org/x/time/rate"
)

// webhookPayload is the JSON body posted to the webhook
type webhookPayload struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

// WebhookNotifier posts notifications as JSON to a chat-bot bridge
type WebhookNotifier struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	logger  arbor.ILogger
}

// NewWebhookNotifier creates a notifier limited to ratePerMinute sends
func NewWebhookNotifier(url string, ratePerMinute int, timeout time.Duration, logger arbor.ILogger) *WebhookNotifier {
	if ratePerMinute <= 0 {
		ratePerMinute = 20
	}
	return &WebhookNotifier{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMinute)), 1),
		logger:  logger,
	}
}

// Send waits for the outbound rate limit and posts the message
func (n *WebhookNotifier) Send(ctx context.Context, text string, metadata map[string]string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notification rate limit wait: %w", err)
	}

	body, err := json.Marshal(webhookPayload{Text: text, Metadata: metadata, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned status %d", resp.StatusCode)
	}

	n.logger.Debug().Int("status", resp.StatusCode).Int("bytes", len(body)).Msg("Notification delivered")
	return nil
}

var _ interfaces.Notifier = (*WebhookNotifier)(nil)
