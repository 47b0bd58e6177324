// Package throttle paces outbound forum requests. The delay between requests
// follows observed latency: it moves halfway towards latency divided by the
// target concurrency after each success, doubles after a failure, and always
// stays within the configured bounds.
package throttle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/nga-monitor/internal/metrics"
)

// Config bounds the adaptive delay.
type Config struct {
	// StartDelay is the initial delay; it is raised to MinDelay if lower.
	StartDelay time.Duration
	MinDelay   time.Duration
	MaxDelay   time.Duration
	// TargetConcurrency is the number of requests the throttle aims to keep
	// in flight against the forum.
	TargetConcurrency float64
}

// Throttle implements crawler.Throttle with a single shared token bucket.
type Throttle struct {
	mu      sync.Mutex
	cfg     Config
	delay   time.Duration
	limiter *rate.Limiter
}

// New builds a Throttle. MaxDelay below MinDelay is raised to MinDelay.
func New(cfg Config) *Throttle {
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	if cfg.TargetConcurrency <= 0 {
		cfg.TargetConcurrency = 1
	}
	t := &Throttle{cfg: cfg}
	t.delay = t.clamp(cfg.StartDelay)
	t.limiter = rate.NewLimiter(limitFor(t.delay), 1)
	metrics.SetThrottleDelay(t.delay)
	return t
}

func limitFor(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

// Wait blocks until the next request may be issued.
func (t *Throttle) Wait(ctx context.Context) error {
	start := time.Now()
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveThrottleWait(waited)
	}
	return nil
}

// Observe feeds one completed request back into the delay.
func (t *Throttle) Observe(latency time.Duration, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.delay
	var next time.Duration
	if failed {
		next = cur * 2
		if next == 0 {
			next = t.cfg.MinDelay
		}
	} else {
		target := time.Duration(float64(latency) / t.cfg.TargetConcurrency)
		next = (cur + target) / 2
		if next < target {
			next = target
		}
	}
	next = t.clamp(next)
	if next == cur {
		return
	}
	t.delay = next
	t.limiter.SetLimit(limitFor(next))
	metrics.SetThrottleDelay(next)
}

// Delay returns the current delay.
func (t *Throttle) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delay
}

func (t *Throttle) clamp(d time.Duration) time.Duration {
	if d < t.cfg.MinDelay {
		return t.cfg.MinDelay
	}
	if d > t.cfg.MaxDelay {
		return t.cfg.MaxDelay
	}
	return d
}
