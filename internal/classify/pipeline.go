// Package classify scores post bodies for sentiment and risk keywords and
// decides whether a record warrants an alert.
package classify

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
)

// Defaults applied by DefaultConfig.
const (
	DefaultChunkSize          = 500
	DefaultSentimentThreshold = 0.3
	DefaultRiskThreshold      = 2
)

// DefaultKeywords is the stock risk vocabulary.
var DefaultKeywords = []string{"bug", "国服", "雷火", "退款", "封号", "客服", "垃圾", "运营", "BUG"}

// Config tunes the pipeline. A zero ChunkSize or nil Keywords falls back to
// the defaults; the thresholds are used as given, so zero is a real setting.
type Config struct {
	ChunkSize          int
	Keywords           []string
	SentimentThreshold float64
	RiskThreshold      int
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		ChunkSize:          DefaultChunkSize,
		Keywords:           DefaultKeywords,
		SentimentThreshold: DefaultSentimentThreshold,
		RiskThreshold:      DefaultRiskThreshold,
	}
}

// Pipeline implements crawler.Classifier.
type Pipeline struct {
	scorer   crawler.SentimentScorer
	cfg      Config
	keywords []keyword
	logger   *zap.Logger
}

type keyword struct {
	label string
	lower string
}

// New builds a Pipeline around an external scorer.
func New(scorer crawler.SentimentScorer, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Keywords == nil {
		cfg.Keywords = DefaultKeywords
	}
	return &Pipeline{
		scorer:   scorer,
		cfg:      cfg,
		keywords: normalizeKeywords(cfg.Keywords),
		logger:   logger,
	}
}

// normalizeKeywords drops blanks and case-insensitive duplicates, keeping the
// first spelling.
func normalizeKeywords(in []string) []keyword {
	seen := make(map[string]struct{}, len(in))
	out := make([]keyword, 0, len(in))
	for _, kw := range in {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		lower := strings.ToLower(kw)
		if _, ok := seen[lower]; ok {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, keyword{label: kw, lower: lower})
	}
	return out
}

// Keywords returns the effective keyword list.
func (p *Pipeline) Keywords() []string {
	out := make([]string, len(p.keywords))
	for i, kw := range p.keywords {
		out[i] = kw.label
	}
	return out
}

// Classify scores text. Sentiment is computed first, then risk, then the
// alert decision.
func (p *Pipeline) Classify(ctx context.Context, text string) crawler.Classification {
	c := crawler.Classification{Sentiment: p.Sentiment(ctx, text)}
	c.RiskLevel, c.RiskKeywords = p.Risk(text)
	score := crawler.NeutralSentiment
	if c.Sentiment != nil {
		score = *c.Sentiment
	}
	c.Alert = p.ShouldAlert(score, c.RiskLevel)
	return c
}

// Sentiment returns the (possibly chunk-averaged) score, or nil when the text
// is empty or the scorer fails. Callers treat nil as neutral.
func (p *Pipeline) Sentiment(ctx context.Context, text string) *float64 {
	if strings.TrimSpace(text) == "" || p.scorer == nil {
		return nil
	}
	chunks := Chunk(text, p.cfg.ChunkSize)
	var (
		sum    float64
		scored int
	)
	for _, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		v, err := p.scorer.Score(ctx, chunk)
		if err != nil {
			p.logger.Warn("sentiment scorer failed", zap.Error(err), zap.Int("chunks", len(chunks)))
			return nil
		}
		sum += clamp(v)
		scored++
	}
	if scored == 0 {
		return nil
	}
	avg := sum / float64(scored)
	return &avg
}

// Risk counts configured keywords present in text, case-insensitively. Each
// keyword counts at most once however often it occurs.
func (p *Pipeline) Risk(text string) (int, []string) {
	matched := []string{}
	if text == "" {
		return 0, matched
	}
	lower := strings.ToLower(text)
	for _, kw := range p.keywords {
		if strings.Contains(lower, kw.lower) {
			matched = append(matched, kw.label)
		}
	}
	return len(matched), matched
}

// ShouldAlert fires when sentiment is below the threshold or risk reaches it.
func (p *Pipeline) ShouldAlert(sentiment float64, risk int) bool {
	return sentiment < p.cfg.SentimentThreshold || risk >= p.cfg.RiskThreshold
}

// Chunk splits text into consecutive pieces of at most size runes. Text no
// longer than size is returned as a single chunk.
func Chunk(text string, size int) []string {
	runes := []rune(text)
	if size <= 0 || len(runes) <= size {
		return []string{text}
	}
	out := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
