// Package sentiment provides SentimentScorer implementations. The monitor
// treats scoring as a black box; these adapters cover an offline lexicon, a
// generic HTTP scoring service and the Gemini API.
package sentiment

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
)

// Provider names accepted by New.
const (
	ProviderLexicon = "lexicon"
	ProviderHTTP    = "http"
	ProviderGemini  = "gemini"
)

// Config selects and configures a scorer.
type Config struct {
	Provider     string
	HTTPEndpoint string
	GeminiAPIKey string
	GeminiModel  string
	// HTTPClient is used by the HTTP scorer; nil selects a default client.
	HTTPClient *http.Client
}

// New builds the configured scorer.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (crawler.SentimentScorer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderLexicon:
		return NewLexicon(nil, nil), nil
	case ProviderHTTP:
		return NewHTTPScorer(cfg.HTTPEndpoint, cfg.HTTPClient)
	case ProviderGemini:
		logger.Info("using gemini sentiment scorer", zap.String("model", cfg.GeminiModel))
		return NewGeminiScorer(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	default:
		return nil, fmt.Errorf("unknown sentiment provider %q", cfg.Provider)
	}
}
