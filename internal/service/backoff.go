package service

import (
	"math"
	"math/rand"
	"sync"
	"time"

	config "github.com/maheshrc27/campaignflow/configs"
)

// Backoff computes retry delays for a RetryPolicy. The policy can be swapped
// at runtime when the configuration is reloaded.
type Backoff struct {
	mu     sync.Mutex
	policy config.RetryPolicy
	rng    *rand.Rand
}

func NewBackoff(policy config.RetryPolicy, seed int64) *Backoff {
	return &Backoff{policy: policy, rng: rand.New(rand.NewSource(seed))}
}

func (b *Backoff) Policy() config.RetryPolicy {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.policy
}

func (b *Backoff) SetPolicy(policy config.RetryPolicy) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.policy = policy
}

// Delay returns the wait before the next attempt of something that has
// already failed retries times. The result is at least minDelay.
func (b *Backoff) Delay(retries int, minDelay time.Duration) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.policy
	if retries < 0 {
		retries = 0
	}

	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(retries))
	if d > float64(p.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += b.rng.Float64() * p.Jitter * d
	}

	delay := time.Duration(d)
	if delay < minDelay {
		delay = minDelay
	}
	return delay
}
