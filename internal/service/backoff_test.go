package service

import (
	"testing"
	"time"

	config "github.com/maheshrc27/campaignflow/configs"
)

func TestBackoffDelay(t *testing.T) {
	policy := config.RetryPolicy{
		BaseDelay:  time.Minute,
		Multiplier: 2,
		MaxDelay:   10 * time.Minute,
		MaxRetries: 5,
	}

	tests := []struct {
		retries int
		hint    time.Duration
		want    time.Duration
	}{
		{0, 0, time.Minute},
		{1, 0, 2 * time.Minute},
		{3, 0, 8 * time.Minute},
		{4, 0, 10 * time.Minute},
		{200, 0, 10 * time.Minute},
		{0, 5 * time.Minute, 5 * time.Minute},
		{3, time.Minute, 8 * time.Minute},
	}

	b := NewBackoff(policy, 1)
	for _, tt := range tests {
		if got := b.Delay(tt.retries, tt.hint); got != tt.want {
			t.Errorf("Delay(%d, %s) = %s, want %s", tt.retries, tt.hint, got, tt.want)
		}
	}
}

func TestBackoffJitterStaysInRange(t *testing.T) {
	policy := config.RetryPolicy{
		BaseDelay:  time.Minute,
		Multiplier: 2,
		MaxDelay:   time.Hour,
		MaxRetries: 3,
		Jitter:     0.5,
	}
	b := NewBackoff(policy, 42)

	seen := make(map[time.Duration]bool)
	for i := 0; i < 100; i++ {
		d := b.Delay(1, 0)
		if d < 2*time.Minute || d >= 3*time.Minute {
			t.Fatalf("delay %s outside [2m, 3m)", d)
		}
		seen[d] = true
	}
	if len(seen) < 2 {
		t.Fatal("jitter produced a constant delay")
	}
}

func TestBackoffSetPolicy(t *testing.T) {
	b := NewBackoff(config.RetryPolicy{BaseDelay: time.Second, Multiplier: 1, MaxDelay: time.Second, MaxRetries: 1}, 1)
	b.SetPolicy(config.RetryPolicy{BaseDelay: time.Minute, Multiplier: 1, MaxDelay: time.Minute, MaxRetries: 7})

	if got := b.Policy().MaxRetries; got != 7 {
		t.Fatalf("MaxRetries = %d, want 7", got)
	}
	if got := b.Delay(0, 0); got != time.Minute {
		t.Fatalf("Delay = %s, want 1m", got)
	}
}
