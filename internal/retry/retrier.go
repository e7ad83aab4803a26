package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/syntrixbase/searchindexer/internal/events"
)

// Defaults used by the coordinator.
const (
	DefaultAttempts = 5
	DefaultDelay    = time.Second
)

// DefaultFatalBackoff is the doubling schedule associated with fatal failures.
var DefaultFatalBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// RetryHook is called after a retriable failure, before the retrier sleeps.
// retry counts from 1. ev is the event being worked on and may be nil.
type RetryHook func(retry int, ev *events.StoredEvent, err error)

// Retrier runs operations with a fixed number of attempts and a fixed delay
// between them.
type Retrier struct {
	// Attempts is the total number of calls made before giving up.
	Attempts int
	// Delay is the wait between attempts.
	Delay time.Duration
	// FatalBackoff is reserved for backing off after fatal failures. The
	// retry loop does not consume it.
	FatalBackoff []time.Duration
	// OnRetry, if set, is called for every retriable failure that will be
	// retried.
	OnRetry RetryHook

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Retrier and validates its parameters.
func New(attempts int, delay time.Duration, fatalBackoff []time.Duration, onRetry RetryHook) (*Retrier, error) {
	if attempts < 1 {
		return nil, fmt.Errorf("retry attempts must be at least 1, got %d", attempts)
	}
	if delay < 0 {
		return nil, fmt.Errorf("retry delay must not be negative, got %s", delay)
	}
	for i, d := range fatalBackoff {
		if d <= 0 {
			return nil, fmt.Errorf("fatal backoff entry %d must be positive, got %s", i, d)
		}
		if i > 0 && d < fatalBackoff[i-1] {
			return nil, fmt.Errorf("fatal backoff entry %d must not be shorter than entry %d, got %s < %s", i, i-1, d, fatalBackoff[i-1])
		}
	}
	return &Retrier{
		Attempts:     attempts,
		Delay:        delay,
		FatalBackoff: append([]time.Duration(nil), fatalBackoff...),
		OnRetry:      onRetry,
	}, nil
}

// Default returns a Retrier with the coordinator defaults.
func Default(onRetry RetryHook) *Retrier {
	r, _ := New(DefaultAttempts, DefaultDelay, DefaultFatalBackoff, onRetry)
	return r
}

// RetryCons runs op until it succeeds, fails with a non-retriable error, or
// exhausts its attempts.
//
// Non-retriable errors are returned unchanged. Exhausted retries and context
// cancellation while waiting are returned as *FatalError.
func (r *Retrier) RetryCons(ctx context.Context, ev *events.StoredEvent, op func(ctx context.Context) error) error {
	_, err := RetryFunc(ctx, r, ev, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// RetryFunc is RetryCons for operations that return a value.
func RetryFunc[T any](ctx context.Context, r *Retrier, ev *events.StoredEvent, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, Fatal(fmt.Errorf("interrupted: %w", err))
		}
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if !IsRetriable(err) {
			return zero, err
		}
		if attempt >= attempts {
			return zero, Fatal(fmt.Errorf("giving up after %d attempts: %w", attempt, err))
		}
		if r.OnRetry != nil {
			r.OnRetry(attempt, ev, err)
		}
		if err := r.wait(ctx); err != nil {
			return zero, Fatal(fmt.Errorf("interrupted: %w", err))
		}
	}
}

func (r *Retrier) wait(ctx context.Context) error {
	if r.sleep != nil {
		return r.sleep(ctx, r.Delay)
	}
	return sleepContext(ctx, r.Delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsInterrupt reports whether err came from context cancellation.
func IsInterrupt(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
