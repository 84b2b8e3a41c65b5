package notify

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidMaxAttempts is returned when max attempts are not positive.
	ErrInvalidMaxAttempts = errors.New("max attempts must be positive")

	// ErrNegativeDelay is returned when the retry delay is negative.
	ErrNegativeDelay = errors.New("retry delay must not be negative")

	// ErrUnknownBackoff is returned for a backoff mode other than fixed or exponential.
	ErrUnknownBackoff = errors.New("backoff must be fixed or exponential")
)

// Backoff selects how the delay grows between attempts.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

// AttemptFunc performs attempt number `attempt` (1-based).
type AttemptFunc func(ctx context.Context, attempt int) error

type retryConfig struct {
	maxAttempts int
	delay       time.Duration
	maxDelay    time.Duration
	backoff     Backoff
}

// RetryOption configures Retry using the functional options pattern.
type RetryOption func(*retryConfig) error

func WithMaxAttempts(n int) RetryOption {
	return func(c *retryConfig) error {
		if n <= 0 {
			return ErrInvalidMaxAttempts
		}
		c.maxAttempts = n
		return nil
	}
}

// WithDelay sets the wait before the second attempt. With exponential
// backoff it doubles for every following attempt, capped at maxDelay when
// maxDelay is positive.
func WithDelay(delay, maxDelay time.Duration) RetryOption {
	return func(c *retryConfig) error {
		if delay < 0 || maxDelay < 0 {
			return ErrNegativeDelay
		}
		c.delay = delay
		c.maxDelay = maxDelay
		return nil
	}
}

func WithBackoff(b Backoff) RetryOption {
	return func(c *retryConfig) error {
		switch b {
		case BackoffFixed, BackoffExponential:
			c.backoff = b
			return nil
		case "":
			c.backoff = BackoffFixed
			return nil
		}
		return ErrUnknownBackoff
	}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retry runs fn until it succeeds, returns a permanent error or the attempts
// are used up. It returns the number of attempts made and the last error.
func Retry(ctx context.Context, fn AttemptFunc, options ...RetryOption) (int, error) {
	cfg := &retryConfig{maxAttempts: 3, delay: 30 * time.Second, backoff: BackoffFixed}
	for _, opt := range options {
		if err := opt(cfg); err != nil {
			return 0, err
		}
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(cfg.delayBefore(attempt)):
			case <-ctx.Done():
				return attempt - 1, ctx.Err()
			}
		}
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}
		if IsPermanent(lastErr) {
			return attempt, lastErr
		}
	}
	return cfg.maxAttempts, lastErr
}

func (c *retryConfig) delayBefore(attempt int) time.Duration {
	if c.backoff != BackoffExponential {
		return c.delay
	}
	d := c.delay
	for i := 2; i < attempt; i++ {
		d *= 2
		if c.maxDelay > 0 && d >= c.maxDelay {
			return c.maxDelay
		}
	}
	if c.maxDelay > 0 && d > c.maxDelay {
		return c.maxDelay
	}
	return d
}
