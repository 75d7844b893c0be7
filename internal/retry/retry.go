// Package retry implements a bounded exponential backoff around arbitrary operations.
package retry

import (
	"context"
	"time"
)

// Policy bounds how often and how patiently an operation is retried.
type Policy struct {
	// Attempts is the total number of executions, including the first one.
	Attempts int
	// InitialDelay is the wait after the first failure; it doubles after each subsequent one.
	InitialDelay time.Duration
}

// Backoff returns the wait duration after the given failed attempt (1-based).
// No jitter is applied.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.InitialDelay <= 0 {
		return 0
	}
	return p.InitialDelay * time.Duration(1<<(attempt-1))
}

func (p Policy) ceiling() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// Pauser abstracts how the retrier waits between attempts.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// TimerPauser sleeps on a timer and wakes early when ctx is done.
type TimerPauser struct{}

// Pause blocks for delay or until ctx finishes, whichever comes first.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type options struct {
	pauser  Pauser
	onRetry func(attempt int, err error, delay time.Duration)
}

// Option customises a single Do invocation.
type Option func(*options)

// WithPauser replaces the timer-based wait, mainly for tests.
func WithPauser(p Pauser) Option {
	return func(o *options) {
		if p != nil {
			o.pauser = p
		}
	}
}

// WithOnRetry registers a hook invoked after each failed attempt that will be retried.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(o *options) {
		o.onRetry = fn
	}
}

// Do executes op until it succeeds or policy.Attempts executions have failed.
// On exhaustion the error of the last attempt is returned unchanged.
func Do[T any](ctx context.Context, policy Policy, op func(context.Context) (T, error), opts ...Option) (T, error) {
	o := options{pauser: TimerPauser{}}
	for _, opt := range opts {
		opt(&o)
	}

	ceiling := policy.ceiling()
	var zero T
	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= ceiling {
			return zero, err
		}
		delay := policy.Backoff(attempt)
		if o.onRetry != nil {
			o.onRetry(attempt, err, delay)
		}
		if perr := o.pauser.Pause(ctx, delay); perr != nil {
			return zero, perr
		}
	}
}
