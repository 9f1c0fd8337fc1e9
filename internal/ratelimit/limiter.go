package ratelimit

import (
	"context"
	"sync"
	"time"

	config "github.com/maheshrc27/campaignflow/configs"
	"github.com/maheshrc27/campaignflow/internal/apperrors"
	"golang.org/x/time/rate"
)

// Registry hands out one token bucket per credential key. Buckets are shared
// by every worker in the process.
type Registry struct {
	mu       sync.Mutex
	cfg      config.RateLimitConfig
	limiters map[string]*rate.Limiter
}

func NewRegistry(cfg config.RateLimitConfig) *Registry {
	return &Registry{cfg: cfg, limiters: make(map[string]*rate.Limiter)}
}

func (r *Registry) limiter(key string) (*rate.Limiter, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(r.cfg.RefillPerSecond), r.cfg.Capacity)
		r.limiters[key] = l
	}
	return l, r.cfg.MaxWait
}

// Acquire takes one token for key. It waits for a refill when the wait fits
// under the configured ceiling and returns apperrors.ErrRateLimited, with a
// retry hint where one is known, otherwise.
func (r *Registry) Acquire(ctx context.Context, key string) error {
	l, maxWait := r.limiter(key)

	now := time.Now()
	res := l.ReserveN(now, 1)
	if !res.OK() {
		return apperrors.ErrRateLimited
	}

	delay := res.DelayFrom(now)
	if delay == 0 {
		return nil
	}
	if delay > maxWait {
		res.CancelAt(now)
		return apperrors.RetryAfter(apperrors.ErrRateLimited, delay)
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		res.Cancel()
		return ctx.Err()
	}
}

// Update applies new bucket settings to existing and future buckets.
func (r *Registry) Update(cfg config.RateLimitConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cfg = cfg
	now := time.Now()
	for _, l := range r.limiters {
		l.SetLimitAt(now, rate.Limit(cfg.RefillPerSecond))
		l.SetBurstAt(now, cfg.Capacity)
	}
}
