package sync_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	pkgsync "github.com/kislikjeka/pocketflow/internal/platform/sync"
)

var fastRetry = pkgsync.RetryOptions{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}

func TestWithRetry(t *testing.T) {
	transient := fmt.Errorf("%w: 429", pkgsync.ErrUpstreamUnavailable)

	t.Run("succeeds first time", func(t *testing.T) {
		calls := 0
		err := pkgsync.WithRetry(context.Background(), fastRetry, func(context.Context) error {
			calls++
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := pkgsync.WithRetry(context.Background(), fastRetry, func(context.Context) error {
			calls++
			return transient
		})
		assert.ErrorIs(t, err, pkgsync.ErrUpstreamUnavailable)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent error is not retried", func(t *testing.T) {
		calls := 0
		err := pkgsync.WithRetry(context.Background(), fastRetry, func(context.Context) error {
			calls++
			return errors.New("not found")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("context cancellation stops backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := pkgsync.RetryOptions{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 2}
		calls := 0
		err := pkgsync.WithRetry(ctx, slow, func(context.Context) error {
			calls++
			cancel()
			return transient
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, pkgsync.IsRetryable(fmt.Errorf("wrapped: %w", pkgsync.ErrUpstreamUnavailable)))
	assert.False(t, pkgsync.IsRetryable(errors.New("boom")))
	assert.False(t, pkgsync.IsRetryable(nil))
}
