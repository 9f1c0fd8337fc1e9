package apperrors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name      string
		err       error
		kind      Kind
		retryable bool
	}{
		{"nil", nil, KindUnknown, false},
		{"plain", base, KindUnknown, false},
		{"validation", Validation("schedule", base), KindValidation, false},
		{"transient", Transient("publish", base), KindTransient, true},
		{"permanent", Permanent("publish", base), KindPermanent, false},
		{"infrastructure", Infrastructure("store", base), KindInfrastructure, true},
		{"wrapped transient", fmt.Errorf("deliver: %w", Transient("publish", base)), KindTransient, true},
		{"rate limited", ErrRateLimited, KindTransient, true},
		{"insufficient content", &InsufficientContentError{Needed: 6, Got: 2}, KindValidation, false},
		{"retry after keeps kind", RetryAfter(Transient("publish", base), time.Second), KindTransient, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.kind {
				t.Fatalf("KindOf = %v, want %v", got, tt.kind)
			}
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Fatalf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestRetryHint(t *testing.T) {
	err := fmt.Errorf("call: %w", RetryAfter(ErrRateLimited, 30*time.Second))
	d, ok := RetryHint(err)
	if !ok || d != 30*time.Second {
		t.Fatalf("RetryHint = %v, %v", d, ok)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected ErrRateLimited in chain")
	}
	if _, ok := RetryHint(ErrRateLimited); ok {
		t.Fatal("unexpected hint")
	}
}
