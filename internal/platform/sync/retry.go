package sync

import (
	"context"
	"errors"
	"net"
	"time"
)

// ErrUpstreamUnavailable marks transient provider failures (5xx, 429, timeouts)
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// RetryOptions controls exponential backoff
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryOptions returns 3 attempts starting at 500ms
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
	}
}

// IsRetryable reports whether err is a transient upstream failure
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUpstreamUnavailable) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// WithRetry runs fn until it succeeds, fails permanently or attempts run out
func WithRetry(ctx context.Context, opts RetryOptions, fn func(ctx context.Context) error) error {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Multiplier < 1 {
		opts.Multiplier = 1
	}

	delay := opts.InitialDelay
	var err error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if err = fn(ctx); err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == opts.MaxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * opts.Multiplier)
		if opts.MaxDelay > 0 && delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}
	return err
}
