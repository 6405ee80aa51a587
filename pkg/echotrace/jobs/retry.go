package jobs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mdobak/go-xerrors"
)

// Policy controls the exponential backoff applied to transient failures.
type Policy struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	MaxAttempts  int
}

// DefaultPolicy retries up to 5 times starting at 100ms and doubling.
var DefaultPolicy = Policy{
	InitialDelay: 100 * time.Millisecond,
	Factor:       2,
	MaxDelay:     5 * time.Second,
	MaxAttempts:  5,
}

func (p Policy) withDefaults() Policy {
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultPolicy.InitialDelay
	}
	if p.Factor < 1 {
		p.Factor = DefaultPolicy.Factor
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy.MaxDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	return p
}

// transientMarkers are substrings of errors worth retrying: lock
// contention, timeouts and dropped connections.
var transientMarkers = []string{
	"database is locked",
	"database table is locked",
	"busy",
	"deadlock",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"temporarily unavailable",
	"i/o error",
}

// IsTransient reports whether err is worth retrying. Context cancellation
// is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// backoffSleep waits out one backoff delay or returns early when ctx is
// cancelled. Swapped out in tests to observe the schedule.
var backoffSleep = func(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// WithRetry runs op, retrying transient failures with exponential backoff.
// Non-transient errors fail immediately; the sleeps respect ctx.
func WithRetry(ctx context.Context, p Policy, op func() error) error {
	p = p.withDefaults()
	delay := p.InitialDelay

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := backoffSleep(ctx, delay); err != nil {
				return xerrors.New(err)
			}
			delay = time.Duration(float64(delay) * p.Factor)
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
	}
	return xerrors.New("retry attempts exhausted", lastErr)
}
