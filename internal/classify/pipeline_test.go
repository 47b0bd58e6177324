package classify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type scriptedScorer struct {
	mu     sync.Mutex
	scores []float64
	err    error
	calls  []string
}

func (s *scriptedScorer) Score(_ context.Context, text string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, text)
	if s.err != nil {
		return 0, s.err
	}
	v := s.scores[0]
	if len(s.scores) > 1 {
		s.scores = s.scores[1:]
	}
	return v, nil
}

func TestSentimentShortTextSingleCall(t *testing.T) {
	t.Parallel()

	scorer := &scriptedScorer{scores: []float64{0.8}}
	p := New(scorer, DefaultConfig(), nil)
	text := strings.Repeat("好", 500)
	got := p.Sentiment(context.Background(), text)
	require.NotNil(t, got)
	assert.InDelta(t, 0.8, *got, 1e-9)
	require.Len(t, scorer.calls, 1)
	assert.Equal(t, text, scorer.calls[0])
}

func TestSentimentLongTextAveragesChunks(t *testing.T) {
	t.Parallel()

	scorer := &scriptedScorer{scores: []float64{0.9, 0.3, 0.6}}
	p := New(scorer, DefaultConfig(), nil)
	text := strings.Repeat("差", 1001)
	got := p.Sentiment(context.Background(), text)
	require.NotNil(t, got)
	assert.InDelta(t, 0.6, *got, 1e-9)
	require.Len(t, scorer.calls, 3)
	assert.Len(t, []rune(scorer.calls[0]), 500)
	assert.Len(t, []rune(scorer.calls[1]), 500)
	assert.Len(t, []rune(scorer.calls[2]), 1)
}

func TestSentimentSkipsBlankChunks(t *testing.T) {
	t.Parallel()

	scorer := &scriptedScorer{scores: []float64{0.2}}
	cfg := DefaultConfig()
	cfg.ChunkSize = 4
	p := New(scorer, cfg, nil)
	got := p.Sentiment(context.Background(), "abcd    ")
	require.NotNil(t, got)
	assert.InDelta(t, 0.2, *got, 1e-9)
	assert.Len(t, scorer.calls, 1)
}

func TestSentimentEmptyIsAbsent(t *testing.T) {
	t.Parallel()

	scorer := &scriptedScorer{scores: []float64{0.1}}
	p := New(scorer, DefaultConfig(), nil)
	assert.Nil(t, p.Sentiment(context.Background(), ""))
	assert.Nil(t, p.Sentiment(context.Background(), "   \n"))
	assert.Empty(t, scorer.calls)

	c := p.Classify(context.Background(), "")
	assert.Nil(t, c.Sentiment)
	assert.False(t, c.Alert, "absent sentiment is neutral")
}

func TestSentimentScorerFailureIsRecovered(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	scorer := &scriptedScorer{err: errors.New("model offline")}
	p := New(scorer, DefaultConfig(), zap.New(core))
	c := p.Classify(context.Background(), "一切正常")
	assert.Nil(t, c.Sentiment)
	assert.False(t, c.Alert)
	assert.Equal(t, 1, logs.FilterMessage("sentiment scorer failed").Len())
}

func TestRiskCountsKeywordsOnce(t *testing.T) {
	t.Parallel()

	p := New(nil, withKeywords("bug", "国服", "退款"), nil)
	level, matched := p.Risk("bug bug bug 国服 退款")
	assert.Equal(t, 3, level)
	assert.Equal(t, []string{"bug", "国服", "退款"}, matched)

	level, matched = p.Risk("BUG everywhere")
	assert.Equal(t, 1, level)
	assert.Equal(t, []string{"bug"}, matched)

	level, matched = p.Risk("")
	assert.Zero(t, level)
	assert.Empty(t, matched)
}

func TestDefaultKeywordsFoldDuplicates(t *testing.T) {
	t.Parallel()

	p := New(nil, DefaultConfig(), nil)
	assert.Equal(t, []string{"bug", "国服", "雷火", "退款", "封号", "客服", "垃圾", "运营"}, p.Keywords())
	level, _ := p.Risk("BUG")
	assert.Equal(t, 1, level)
}

func TestShouldAlertBoundaries(t *testing.T) {
	t.Parallel()

	p := New(nil, DefaultConfig(), nil)
	tests := []struct {
		sentiment float64
		risk      int
		want      bool
	}{
		{0.3, 0, false},
		{0.3, 1, false},
		{0.2999, 0, true},
		{0.9, 2, true},
		{0.1, 5, true},
		{0.5, 1, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.ShouldAlert(tt.sentiment, tt.risk), "sentiment=%v risk=%d", tt.sentiment, tt.risk)
	}
}

func TestClassifyEndToEnd(t *testing.T) {
	t.Parallel()

	scorer := &scriptedScorer{scores: []float64{0.7}}
	p := New(scorer, withKeywords("bug", "国服", "退款"), nil)
	c := p.Classify(context.Background(), "bug bug bug 国服 退款")
	require.NotNil(t, c.Sentiment)
	assert.Equal(t, 3, c.RiskLevel)
	assert.True(t, c.Alert)
}

func TestZeroThresholdsAreHonoured(t *testing.T) {
	t.Parallel()

	p := New(nil, Config{SentimentThreshold: 0, RiskThreshold: 5}, nil)
	assert.False(t, p.ShouldAlert(0, 0), "no score sits below a zero threshold")
	assert.False(t, p.ShouldAlert(0.01, 4))
	assert.True(t, p.ShouldAlert(0.5, 5))

	p = New(nil, Config{SentimentThreshold: 0.3, RiskThreshold: 0}, nil)
	assert.True(t, p.ShouldAlert(0.9, 0), "a zero risk threshold alerts on every post")
}

func TestNewFillsChunkSizeAndKeywordsOnly(t *testing.T) {
	t.Parallel()

	p := New(nil, Config{}, nil)
	assert.Equal(t, DefaultChunkSize, p.cfg.ChunkSize)
	assert.Len(t, p.Keywords(), 8)
	assert.Zero(t, p.cfg.SentimentThreshold)
	assert.Zero(t, p.cfg.RiskThreshold)
}

func TestChunk(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"abc"}, Chunk("abc", 3))
	assert.Equal(t, []string{"ab", "cd", "e"}, Chunk("abcde", 2))
	assert.Equal(t, []string{"你好", "世界"}, Chunk("你好世界", 2))
}

func withKeywords(keywords ...string) Config {
	cfg := DefaultConfig()
	cfg.Keywords = keywords
	return cfg
}
