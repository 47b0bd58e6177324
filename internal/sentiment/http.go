package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPScorer posts {"text": ...} to a scoring service and expects
// {"score": <0..1>} back.
type HTTPScorer struct {
	endpoint string
	client   *http.Client
}

// NewHTTPScorer builds an HTTPScorer. A nil client gets a 10s timeout.
func NewHTTPScorer(endpoint string, client *http.Client) (*HTTPScorer, error) {
	if endpoint == "" {
		return nil, errors.New("sentiment.http.url is required for the http provider")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPScorer{endpoint: endpoint, client: client}, nil
}

type scoreRequest struct {
	Text string `json:"text"`
}

type scoreResponse struct {
	Score *float64 `json:"score"`
}

// Score implements crawler.SentimentScorer.
func (s *HTTPScorer) Score(ctx context.Context, text string) (float64, error) {
	payload, err := json.Marshal(scoreRequest{Text: text})
	if err != nil {
		return 0, fmt.Errorf("encode score request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("score request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("score request: unexpected status %d", resp.StatusCode)
	}
	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode score response: %w", err)
	}
	if out.Score == nil {
		return 0, errors.New("score response missing score")
	}
	if *out.Score < 0 || *out.Score > 1 {
		return 0, fmt.Errorf("score %v out of range", *out.Score)
	}
	return *out.Score, nil
}
