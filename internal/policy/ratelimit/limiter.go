// Package ratelimit throttles page loads per host so a crawl stays polite to
// the storefront it audits.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/fixlab/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// PagesPerSecond is the sustained load rate per host. Zero or less
	// disables throttling.
	PagesPerSecond float64
	// Burst is the number of loads allowed back to back. Defaults to 1.
	Burst int
}

// Limiter manages per-host token buckets. The zero value is not usable; a nil
// *Limiter never waits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// New creates a Limiter. It returns nil when throttling is disabled.
func New(cfg Config) *Limiter {
	if cfg.PagesPerSecond <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(cfg.PagesPerSecond),
		burst:    burst,
	}
}

// Wait blocks until rawURL's host may be loaded again, or ctx is done.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if l == nil {
		return nil
	}
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(rawURL, waited)
	}
	return nil
}

// Hosts reports how many hosts have a bucket.
func (l *Limiter) Hosts() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
