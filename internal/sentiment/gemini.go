package sentiment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

const geminiPrompt = `Rate the sentiment of the following forum post on a scale from 0 to 1,
where 0 is very negative, 0.5 is neutral and 1 is very positive.
Reply with the number only.

Post:
%s`

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiScorer asks a Gemini model for a score.
type GeminiScorer struct {
	models contentGenerator
	model  string
}

// NewGeminiScorer connects to the Gemini API. An empty key falls back to the
// GEMINI_API_KEY and GOOGLE_API_KEY environment variables.
func NewGeminiScorer(ctx context.Context, apiKey, model string) (*GeminiScorer, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("gemini api key not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGeminiScorer(client.Models, model), nil
}

func newGeminiScorer(models contentGenerator, model string) *GeminiScorer {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiScorer{models: models, model: model}
}

// Score implements crawler.SentimentScorer.
func (g *GeminiScorer) Score(ctx context.Context, text string) (float64, error) {
	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](0)}
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(fmt.Sprintf(geminiPrompt, text)), cfg)
	if err != nil {
		return 0, fmt.Errorf("gemini generate: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return 0, errors.New("gemini returned no candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return parseScore(sb.String())
}

func parseScore(raw string) (float64, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return 0, errors.New("empty score")
	}
	v, err := strconv.ParseFloat(strings.TrimRight(strings.Trim(fields[0], "`*"), "."), 64)
	if err != nil {
		return 0, fmt.Errorf("parse score %q: %w", raw, err)
	}
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("score %v out of range", v)
	}
	return v, nil
}
