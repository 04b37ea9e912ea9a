// Package ratelimit implements the Rate Governor (spec.md §4.7): a
// per-host token bucket plus a global concurrency semaphore bounding the
// Worker Pool's outbound fetch rate.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/iaros/pricewatch/internal/apperr"
	"github.com/iaros/pricewatch/internal/obs/metrics"
)

// Config governs bucket capacity/refill and the global concurrency cap.
type Config struct {
	PerHostCapacity     int
	PerHostRefillPerSec float64
	GlobalConcurrency   int
}

// Governor hands out per-host admission tickets bounded by a wait deadline,
// following the token-bucket idiom lueurxax-TelegramDigestBot's crawler
// applies per-chat via golang.org/x/time/rate.
type Governor struct {
	cfg     Config
	metrics *metrics.Registry // nil-safe; a nil Registry disables instrumentation

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	global chan struct{}
}

// New builds a Governor. cfg.GlobalConcurrency <= 0 disables the global cap.
func New(cfg Config, m *metrics.Registry) *Governor {
	g := &Governor{cfg: cfg, metrics: m, limiters: make(map[string]*rate.Limiter)}
	if cfg.GlobalConcurrency > 0 {
		g.global = make(chan struct{}, cfg.GlobalConcurrency)
	}
	return g
}

// Release must be called exactly once for every successful Acquire that
// consumed a global concurrency slot.
type Release func()

// Acquire blocks until a per-host token and a global concurrency slot are
// both available, ctx is cancelled, or the deadline baked into ctx expires.
// A timed-out wait surfaces apperr with Kind RateLimited, matching the
// synthetic RATE_LIMITED SoftFail spec.md §4.7 names for callers to nack on.
func (g *Governor) Acquire(ctx context.Context, host string) (Release, error) {
	start := time.Now()
	defer func() {
		if g.metrics != nil {
			g.metrics.RateGovernorWait.Observe(time.Since(start).Seconds())
		}
	}()

	limiter := g.limiterFor(host)
	if err := limiter.Wait(ctx); err != nil {
		return nil, apperr.Wrap(apperr.RateLimited, "ratelimit.Acquire", "per-host token wait: "+err.Error(), true, err)
	}

	if g.global == nil {
		return func() {}, nil
	}

	select {
	case g.global <- struct{}{}:
		return func() { <-g.global }, nil
	case <-ctx.Done():
		return nil, apperr.Wrap(apperr.RateLimited, "ratelimit.Acquire", "global concurrency wait: "+ctx.Err().Error(), true, ctx.Err())
	}
}

func (g *Governor) limiterFor(host string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	if l, ok := g.limiters[host]; ok {
		return l
	}
	capacity := g.cfg.PerHostCapacity
	if capacity <= 0 {
		capacity = 1
	}
	l := rate.NewLimiter(rate.Limit(g.cfg.PerHostRefillPerSec), capacity)
	g.limiters[host] = l
	return l
}
