package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LogChannel writes alerts to the log.
type LogChannel struct {
	logger *zap.Logger
}

// NewLogChannel builds a LogChannel.
func NewLogChannel(logger *zap.Logger) *LogChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogChannel{logger: logger}
}

// Deliver implements Channel.
func (c *LogChannel) Deliver(_ context.Context, a Alert) error {
	c.logger.Warn("high risk post",
		zap.Int64("post_id", a.PostID),
		zap.String("title", a.Title),
		zap.Float64("sentiment", a.Sentiment),
		zap.Int("risk_level", a.RiskLevel),
		zap.Strings("keywords", a.Keywords),
		zap.String("url", a.URL),
	)
	return nil
}

// WebhookChannel posts to a chat-bot webhook using the
// {"msgtype":"text","text":{"content":...}} payload.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel builds a WebhookChannel. A nil client gets a 10s timeout.
func NewWebhookChannel(url string, client *http.Client) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("alert.webhook_url is required for the webhook channel")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookChannel{url: url, client: client}, nil
}

type webhookText struct {
	Content string `json:"content"`
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

// Deliver implements Channel.
func (c *WebhookChannel) Deliver(ctx context.Context, a Alert) error {
	body, err := json.Marshal(webhookPayload{MsgType: "text", Text: webhookText{Content: a.Message}})
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Publisher is satisfied by the Pub/Sub publisher.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PublisherChannel sends alerts as JSON messages through a Publisher.
type PublisherChannel struct {
	publisher Publisher
	topic     string
}

// NewPublisherChannel builds a PublisherChannel.
func NewPublisherChannel(publisher Publisher, topic string) *PublisherChannel {
	return &PublisherChannel{publisher: publisher, topic: topic}
}

// Deliver implements Channel.
func (c *PublisherChannel) Deliver(ctx context.Context, a Alert) error {
	if _, err := c.publisher.Publish(ctx, c.topic, a); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Recorder keeps alerts in memory. The API status endpoint and tests read it.
type Recorder struct {
	mu     sync.RWMutex
	alerts []Alert
	next   Channel
}

// NewRecorder records alerts and forwards them to next when non-nil.
func NewRecorder(next Channel) *Recorder {
	return &Recorder{next: next}
}

// Deliver implements Channel.
func (r *Recorder) Deliver(ctx context.Context, a Alert) error {
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
	if r.next == nil {
		return nil
	}
	return r.next.Deliver(ctx, a)
}

// Alerts returns the recorded alerts.
func (r *Recorder) Alerts() []Alert {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}
