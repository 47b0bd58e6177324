package sentiment

import (
	"context"
	"strings"
)

// Stock polarity vocabularies for forum chatter.
var (
	DefaultPositive = []string{
		"好", "喜欢", "支持", "满意", "良心", "赞", "优秀", "开心", "感谢", "不错", "推荐", "期待",
		"good", "great", "love", "nice", "thanks",
	}
	DefaultNegative = []string{
		"垃圾", "差", "退款", "骗", "恶心", "失望", "坑", "烂", "封号", "卡顿", "崩", "无语", "举报", "滚",
		"bad", "worst", "scam", "broken", "refund",
	}
)

// Lexicon scores text by counting polarity terms. With p positive and n
// negative hits the score is (p+1)/(p+n+2), so text without hits is neutral.
type Lexicon struct {
	positive []string
	negative []string
}

// NewLexicon builds a Lexicon; nil lists select the defaults.
func NewLexicon(positive, negative []string) *Lexicon {
	if positive == nil {
		positive = DefaultPositive
	}
	if negative == nil {
		negative = DefaultNegative
	}
	return &Lexicon{positive: lowerAll(positive), negative: lowerAll(negative)}
}

// Score implements crawler.SentimentScorer.
func (l *Lexicon) Score(_ context.Context, text string) (float64, error) {
	lower := strings.ToLower(text)
	pos := countTerms(lower, l.positive)
	neg := countTerms(lower, l.negative)
	return float64(pos+1) / float64(pos+neg+2), nil
}

func countTerms(text string, terms []string) int {
	n := 0
	for _, t := range terms {
		n += strings.Count(text, t)
	}
	return n
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
