package crawler

import (
	"context"
	"errors"
	"syscall"
)

// RetryPolicy decides whether a failed fetch is re-queued.
type RetryPolicy struct {
	maxRetries int
	codes      map[int]struct{}
}

// NewRetryPolicy builds a policy allowing maxRetries re-attempts for the
// given status codes. A nil code list falls back to DefaultRetryHTTPCodes.
func NewRetryPolicy(maxRetries int, codes []int) *RetryPolicy {
	if codes == nil {
		codes = DefaultRetryHTTPCodes
	}
	set := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return &RetryPolicy{maxRetries: maxRetries, codes: set}
}

// MaxRetries reports the retry budget per URL.
func (p *RetryPolicy) MaxRetries() int {
	return p.maxRetries
}

// Retryable reports whether err is a transient condition.
func (p *RetryPolicy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	if code := StatusCode(err); code != 0 {
		_, ok := p.codes[code]
		return ok
	}
	return false
}

// ShouldRetry reports whether a task that already used attempt retries may
// be tried again after err.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	return attempt < p.maxRetries && p.Retryable(err)
}
