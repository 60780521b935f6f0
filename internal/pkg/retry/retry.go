// Package retry runs an operation with exponential backoff until it succeeds,
// fails permanently, or the attempt budget runs out.
//
// Publishers use it to absorb transient transport errors. Ledger transactions
// are never retried through it: a conflicting transaction is reported to the
// caller instead.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// ErrExhausted is wrapped into the error returned once every attempt failed.
var ErrExhausted = errors.New("retries exhausted")

// Config holds configuration for retry behavior.
type Config struct {
	// MaxRetries is the number of attempts after the first one. Zero means a single attempt.
	MaxRetries int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration

	// BackoffFactor multiplies the wait after each retry. Default: 2.0.
	BackoffFactor float64

	// Jitter adds up to one extra backoff of random delay to every wait.
	Jitter bool
}

// DefaultConfig returns the configuration used by publishers.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
		BackoffFactor:  2.0,
		Jitter:         true,
	}
}

func (c Config) withDefaults() Config {
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 2.0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 10 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

// Backoff returns the un-jittered wait before retry number attempt (1-indexed).
func (c Config) Backoff(attempt int) time.Duration {
	c = c.withDefaults()
	d := c.InitialBackoff
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * c.BackoffFactor)
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return d
}

// IsRetryableFunc reports whether err is worth another attempt.
type IsRetryableFunc func(error) bool

// OnRetryFunc is called before each retry. attempt is 1-indexed.
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not retryable regardless of the classifier.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a non-retryable error, or
// cfg.MaxRetries retries have failed. A nil isRetryable retries every error
// not marked Permanent.
//
//	id, err := retry.Do(ctx, retry.DefaultConfig(), isTransient, nil, func() (string, error) {
//	    return client.Publish(ctx, msg)
//	})
func Do[T any](
	ctx context.Context,
	cfg Config,
	isRetryable IsRetryableFunc,
	onRetry OnRetryFunc,
	fn func() (T, error),
) (T, error) {
	var zero T
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := cfg.Backoff(attempt)
			if cfg.Jitter {
				wait += rand.N(wait)
			}
			if onRetry != nil {
				onRetry(attempt, lastErr, wait)
			}
			if err := sleep(ctx, wait); err != nil {
				return zero, fmt.Errorf("context cancelled while retrying: %w", err)
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		if isRetryable != nil && !isRetryable(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%w after %d retries: %w", ErrExhausted, cfg.MaxRetries, lastErr)
}

// DoVoid is Do for operations without a result.
func DoVoid(
	ctx context.Context,
	cfg Config,
	isRetryable IsRetryableFunc,
	onRetry OnRetryFunc,
	fn func() error,
) error {
	_, err := Do(ctx, cfg, isRetryable, onRetry, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
