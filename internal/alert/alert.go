// Package alert formats high-risk records and hands them to a delivery
// channel. Delivery is best effort: failures are logged, never retried.
package alert

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
)

const messageTemplate = "⚠️ NGA高风险内容告警\n标题：%s\n情感值：%.2f\n关键词命中：%d次\n链接：%s"

// Alert is the payload handed to a Channel.
type Alert struct {
	Message   string   `json:"message"`
	Section   int      `json:"fid"`
	PostID    int64    `json:"post_id"`
	Title     string   `json:"title"`
	URL       string   `json:"url"`
	Sentiment float64  `json:"sentiment"`
	RiskLevel int      `json:"risk_level"`
	Keywords  []string `json:"risk_keywords"`
}

// Channel delivers alerts to an external system.
type Channel interface {
	Deliver(ctx context.Context, a Alert) error
}

// Format renders the alert message for a record.
func Format(rec crawler.PostRecord) string {
	return fmt.Sprintf(messageTemplate, rec.Title, rec.EffectiveSentiment(), rec.RiskLevel, rec.URL)
}

// FromRecord builds the channel payload for a record.
func FromRecord(rec crawler.PostRecord) Alert {
	return Alert{
		Message:   Format(rec),
		Section:   int(rec.Section),
		PostID:    rec.PostID,
		Title:     rec.Title,
		URL:       rec.URL,
		Sentiment: rec.EffectiveSentiment(),
		RiskLevel: rec.RiskLevel,
		Keywords:  append([]string(nil), rec.RiskKeywords...),
	}
}

// Emitter implements crawler.AlertEmitter.
type Emitter struct {
	channel Channel
	logger  *zap.Logger
	sent    atomic.Int64
	failed  atomic.Int64
}

// NewEmitter wraps channel. A nil channel logs alerts instead.
func NewEmitter(channel Channel, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if channel == nil {
		channel = NewLogChannel(logger)
	}
	return &Emitter{channel: channel, logger: logger}
}

// Emit formats and delivers one alert.
func (e *Emitter) Emit(ctx context.Context, rec crawler.PostRecord) {
	if err := e.channel.Deliver(ctx, FromRecord(rec)); err != nil {
		e.failed.Add(1)
		e.logger.Warn("alert delivery failed",
			zap.Int64("post_id", rec.PostID),
			zap.String("url", rec.URL),
			zap.Error(err),
		)
		return
	}
	e.sent.Add(1)
}

// Sent reports successful deliveries.
func (e *Emitter) Sent() int64 {
	return e.sent.Load()
}

// Failed reports failed deliveries.
func (e *Emitter) Failed() int64 {
	return e.failed.Load()
}
