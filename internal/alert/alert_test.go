package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
	"github.com/JakeFAU/nga-monitor/internal/publisher/memory"
)

func sampleRecord() crawler.PostRecord {
	score := 0.123
	return crawler.PostRecord{
		Section:      7,
		PostID:       42,
		Title:        "国服又出bug",
		URL:          "https://bbs.nga.cn/read.php?tid=42",
		Sentiment:    &score,
		RiskLevel:    2,
		RiskKeywords: []string{"bug", "国服"},
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()

	want := "⚠️ NGA高风险内容告警\n标题：国服又出bug\n情感值：0.12\n关键词命中：2次\n链接：https://bbs.nga.cn/read.php?tid=42"
	assert.Equal(t, want, Format(sampleRecord()))

	rec := sampleRecord()
	rec.Sentiment = nil
	assert.Contains(t, Format(rec), "情感值：0.50")
}

type failingChannel struct{ calls atomic.Int32 }

func (f *failingChannel) Deliver(context.Context, Alert) error {
	f.calls.Add(1)
	return errors.New("endpoint down")
}

func TestEmitterDoesNotRetry(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	ch := &failingChannel{}
	e := NewEmitter(ch, zap.New(core))
	e.Emit(context.Background(), sampleRecord())
	assert.Equal(t, int32(1), ch.calls.Load())
	assert.Equal(t, int64(1), e.Failed())
	assert.Zero(t, e.Sent())
	assert.Equal(t, 1, logs.FilterMessage("alert delivery failed").Len())
}

func TestRecorderForwards(t *testing.T) {
	t.Parallel()

	inner := NewRecorder(nil)
	r := NewRecorder(inner)
	e := NewEmitter(r, nil)
	e.Emit(context.Background(), sampleRecord())
	require.Len(t, r.Alerts(), 1)
	require.Len(t, inner.Alerts(), 1)
	got := r.Alerts()[0]
	assert.Equal(t, int64(42), got.PostID)
	assert.Equal(t, []string{"bug", "国服"}, got.Keywords)
	assert.Equal(t, int64(1), e.Sent())
}

func TestWebhookChannel(t *testing.T) {
	t.Parallel()

	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch, err := NewWebhookChannel(srv.URL, srv.Client())
	require.NoError(t, err)
	require.NoError(t, ch.Deliver(context.Background(), FromRecord(sampleRecord())))
	assert.Equal(t, "text", got.MsgType)
	assert.Equal(t, Format(sampleRecord()), got.Text.Content)
}

func TestWebhookChannelStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch, err := NewWebhookChannel(srv.URL, nil)
	require.NoError(t, err)
	require.Error(t, ch.Deliver(context.Background(), Alert{Message: "x"}))

	_, err = NewWebhookChannel("", nil)
	require.Error(t, err)
}

func TestPublisherChannel(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	ch := NewPublisherChannel(pub, "nga-alerts")
	require.NoError(t, ch.Deliver(context.Background(), FromRecord(sampleRecord())))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "nga-alerts", msgs[0].Topic)
	a, ok := msgs[0].Payload.(Alert)
	require.True(t, ok)
	assert.Equal(t, 2, a.RiskLevel)

	pub.FailWith(errors.New("topic not found"))
	require.Error(t, ch.Deliver(context.Background(), FromRecord(sampleRecord())))
}
