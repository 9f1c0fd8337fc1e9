package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure for the delivery pipeline.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindTransient
	KindPermanent
	KindInfrastructure
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindInfrastructure:
		return "infrastructure"
	default:
		return "unknown"
	}
}

var (
	ErrNotFound          = errors.New("not found")
	ErrRateLimited       = &Error{Kind: KindTransient, Op: "ratelimit", Err: errors.New("rate limited")}
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidContent    = errors.New("invalid content")
	ErrCredentialRevoked = errors.New("authentication required")
)

// Error attaches a Kind and the failing operation to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op string, err error) error     { return wrap(KindValidation, op, err) }
func Transient(op string, err error) error      { return wrap(KindTransient, op, err) }
func Permanent(op string, err error) error      { return wrap(KindPermanent, op, err) }
func Infrastructure(op string, err error) error { return wrap(KindInfrastructure, op, err) }

// Validationf is a shortcut for Validation(op, fmt.Errorf(format, args...)).
func Validationf(op, format string, args ...any) error {
	return Validation(op, fmt.Errorf(format, args...))
}

// KindOf returns the outermost Kind found in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ice *InsufficientContentError
	if errors.As(err, &ice) {
		return KindValidation
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the pipeline should try the operation again.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindInfrastructure:
		return true
	}
	return false
}

// InsufficientContentError is returned when the content supply yields fewer
// usable items than the schedule requires.
type InsufficientContentError struct {
	Needed int
	Got    int
}

func (e *InsufficientContentError) Error() string {
	return fmt.Sprintf("insufficient content: needed %d, got %d", e.Needed, e.Got)
}

// RetryAfter attaches a minimum retry delay, typically taken from a
// Retry-After response header.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e retryAfterError) Error() string             { return fmt.Sprintf("retry-after(%s): %v", e.after, e.err) }
func (e retryAfterError) Unwrap() error             { return e.err }
func (e retryAfterError) RetryAfter() time.Duration { return e.after }

// RetryHint returns the delay carried by a RetryAfter wrapper, if any.
func RetryHint(err error) (time.Duration, bool) {
	var ra RetryAfterError
	if errors.As(err, &ra) {
		return ra.RetryAfter(), true
	}
	return 0, false
}
