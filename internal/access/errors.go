package access

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimitExceeded means the client address exhausted its request window
	ErrRateLimitExceeded = errors.New("access: rate limit exceeded")

	// ErrDailyLimitReached means the session has no quota left today
	ErrDailyLimitReached = errors.New("access: daily limit reached")

	// ErrSessionExpired marks a presented token that was past its expiry and
	// has been replaced. It is never returned from Authorize.
	ErrSessionExpired = errors.New("access: session expired")

	// ErrInternalStore wraps backend failures, including token allocation failure
	ErrInternalStore = errors.New("access: internal store failure")
)

// DeniedError is returned by Decision.Err for rejected requests
type DeniedError struct {
	Outcome    Outcome
	RetryAfter time.Duration
	ResetsAt   time.Time
}

func (e *DeniedError) Error() string {
	switch e.Outcome {
	case RateLimited:
		return fmt.Sprintf("%v (retry after %s)", ErrRateLimitExceeded, e.RetryAfter)
	case DailyLimitReached:
		return fmt.Sprintf("%v (resets at %s)", ErrDailyLimitReached, e.ResetsAt.Format(time.RFC3339))
	default:
		return fmt.Sprintf("access: denied (%s)", e.Outcome)
	}
}

// Unwrap exposes the sentinel for errors.Is
func (e *DeniedError) Unwrap() error {
	switch e.Outcome {
	case RateLimited:
		return ErrRateLimitExceeded
	case DailyLimitReached:
		return ErrDailyLimitReached
	default:
		return nil
	}
}

func storeFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInternalStore, op, err)
}
