// Package headers builds per-request header sets for forum fetches.
package headers

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/JakeFAU/nga-monitor/internal/crawler"
)

// DefaultUserAgents is used when no pool is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; WOW64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36 Edg/125.0.0.0",
}

// Synthesizer implements crawler.HeaderBuilder. It keeps no state between
// calls besides its configuration.
type Synthesizer struct {
	baseURL    string
	userAgents []string
	intN       func(n int) int
	now        func() time.Time
}

// Option customizes a Synthesizer.
type Option func(*Synthesizer)

// WithRandom swaps the source of randomness, mostly for tests.
func WithRandom(intN func(n int) int) Option {
	return func(s *Synthesizer) { s.intN = intN }
}

// WithClock swaps the time source used for X-Request-Time.
func WithClock(now func() time.Time) Option {
	return func(s *Synthesizer) { s.now = now }
}

// New constructs a Synthesizer for the forum at baseURL.
func New(baseURL string, userAgents []string, opts ...Option) *Synthesizer {
	if len(userAgents) == 0 {
		userAgents = DefaultUserAgents
	}
	s := &Synthesizer{
		baseURL:    baseURL,
		userAgents: append([]string(nil), userAgents...),
		intN:       rand.IntN,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Build returns a fresh header set for a request scoped to section.
func (s *Synthesizer) Build(section crawler.SectionID) http.Header {
	h := http.Header{}
	h.Set("User-Agent", s.userAgents[s.intN(len(s.userAgents))])
	h.Set("Referer", crawler.SectionReferer(s.baseURL, section))
	h.Set("X-Forwarded-For", s.forwardedFor())
	h.Set("X-Request-Time", strconv.FormatInt(s.now().UnixMilli(), 10))
	h.Set("X-Requested-With", "XMLHttpRequest")
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("Accept", "application/json, text/javascript, text/html, */*; q=0.01")
	h.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	return h
}

func (s *Synthesizer) forwardedFor() string {
	octet := func() int { return s.intN(255) + 1 }
	return fmt.Sprintf("%d.%d.%d.%d", octet(), octet(), octet(), octet())
}
