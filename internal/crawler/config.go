package crawler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Settings are the controller knobs that stay fixed across runs.
type Settings struct {
	BaseURL         string
	Concurrency     int
	RetryTimes      int
	RetryHTTPCodes  []int
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	LoginMarkers    []string
}

// DefaultRetryHTTPCodes are retried unless configured otherwise.
var DefaultRetryHTTPCodes = []int{500, 502, 503, 504, 408}

// Validate ensures settings are usable.
func (s Settings) Validate() error {
	if s.BaseURL == "" {
		return errors.New("crawler.base_url is required")
	}
	if s.Concurrency <= 0 {
		return errors.New("crawler.concurrency must be > 0")
	}
	if s.RetryTimes < 0 {
		return errors.New("crawler.retry_times must be >= 0")
	}
	if s.RequestTimeout <= 0 {
		return errors.New("crawler.request_timeout must be > 0")
	}
	if s.ShutdownTimeout <= 0 {
		return errors.New("crawler.shutdown_timeout must be > 0")
	}
	return nil
}

// RunParams are supplied per crawl invocation.
type RunParams struct {
	Sections            []SectionID `json:"sections"`
	MaxPagesPerSection  int         `json:"max_pages_per_section"`
	MaxRepliesPerThread int         `json:"max_replies_per_thread"`
	// MaxItems caps emitted records for the whole run; 0 disables the cap.
	MaxItems int      `json:"max_items"`
	UID      string   `json:"uid"`
	Cookie   string   `json:"cookie,omitempty"`
	Proxies  []string `json:"proxies,omitempty"`
}

// Validate rejects configuration errors before any request is issued.
func (p RunParams) Validate() error {
	if err := ValidateUID(p.UID); err != nil {
		return err
	}
	if len(p.Sections) == 0 {
		return ErrNoSections
	}
	for _, s := range p.Sections {
		if s <= 0 {
			return fmt.Errorf("section %d must be > 0", s)
		}
	}
	if p.MaxPagesPerSection < 1 {
		return errors.New("max pages per section must be >= 1")
	}
	if p.MaxRepliesPerThread < 0 {
		return errors.New("max replies per thread must be >= 0")
	}
	if p.MaxItems < 0 {
		return errors.New("max items must be >= 0")
	}
	return nil
}

// ValidateUID checks that uid is a non-empty string of ASCII digits.
func ValidateUID(uid string) error {
	if uid == "" {
		return ErrInvalidUID
	}
	for _, r := range uid {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: %q", ErrInvalidUID, uid)
		}
	}
	return nil
}

// ParseSections parses a comma-separated section list, dropping duplicates.
func ParseSections(raw string) ([]SectionID, error) {
	var out []SectionID
	seen := make(map[SectionID]struct{})
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid section %q", part)
		}
		id := SectionID(n)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, ErrNoSections
	}
	return out, nil
}
