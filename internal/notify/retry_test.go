package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestRetry_SuccessNoRetries(t *testing.T) {
	calls := 0
	attempts, err := Retry(context.Background(), func(_ context.Context, _ int) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
}

func TestRetry_RetriesTransientErrors(t *testing.T) {
	var seen []int
	attempts, err := Retry(context.Background(), func(_ context.Context, attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return errTransient
		}
		return nil
	}, WithMaxAttempts(3), WithDelay(time.Millisecond, 0))
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestRetry_Exhausted(t *testing.T) {
	attempts, err := Retry(context.Background(), func(_ context.Context, _ int) error {
		return errTransient
	}, WithMaxAttempts(4), WithDelay(0, 0))
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 4, attempts)
}

func TestRetry_PermanentStops(t *testing.T) {
	calls := 0
	attempts, err := Retry(context.Background(), func(_ context.Context, _ int) error {
		calls++
		return Permanent(errTransient)
	}, WithMaxAttempts(5), WithDelay(0, 0))
	assert.True(t, IsPermanent(err))
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ContextCancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts, err := Retry(ctx, func(_ context.Context, _ int) error {
		cancel()
		return errTransient
	}, WithMaxAttempts(3), WithDelay(time.Hour, 0))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetry_InvalidOptions(t *testing.T) {
	fn := func(_ context.Context, _ int) error { return nil }

	_, err := Retry(context.Background(), fn, WithMaxAttempts(0))
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)

	_, err = Retry(context.Background(), fn, WithDelay(-time.Second, 0))
	assert.ErrorIs(t, err, ErrNegativeDelay)

	_, err = Retry(context.Background(), fn, WithBackoff("linear"))
	assert.ErrorIs(t, err, ErrUnknownBackoff)
}

func TestDelayBefore(t *testing.T) {
	fixed := &retryConfig{delay: time.Second, backoff: BackoffFixed}
	for attempt := 2; attempt <= 5; attempt++ {
		assert.Equal(t, time.Second, fixed.delayBefore(attempt))
	}

	exp := &retryConfig{delay: time.Second, maxDelay: 5 * time.Second, backoff: BackoffExponential}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		require.Equal(t, w, exp.delayBefore(i+2), "attempt %d", i+2)
	}
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
	assert.False(t, IsPermanent(errTransient))
}
