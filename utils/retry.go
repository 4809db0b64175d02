package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig holds the parameters for the retry strategy.
type RetryConfig struct {
	// MaxAttempts bounds the number of calls to fn. Zero means unbounded.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// MaxElapsed stops retrying once this much time has passed. Zero means never.
	MaxElapsed time.Duration
	Logger     *Logger
}

// Permanent marks err so that Do returns it without further attempts.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do executes fn with exponential back-off retry logic until it succeeds,
// the attempt or time budget is spent, or ctx is cancelled.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	if r.BaseDelay > 0 {
		bo.InitialInterval = r.BaseDelay
	}
	if r.MaxDelay > 0 {
		bo.MaxInterval = r.MaxDelay
	}
	bo.MaxElapsedTime = r.MaxElapsed
	bo.Reset()

	var b backoff.BackOff = bo
	if r.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(r.MaxAttempts-1))
	}
	b = backoff.WithContext(b, ctx)

	attempt := 0
	err := backoff.RetryNotify(
		func() error {
			attempt++
			return fn()
		},
		b,
		func(err error, d time.Duration) {
			if r.Logger == nil {
				return
			}
			if r.MaxAttempts > 0 {
				r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v, retrying in %v",
					operationName, attempt, r.MaxAttempts, err, d.Round(time.Millisecond))
				return
			}
			r.Logger.Warn("[retry] %s failed (attempt %d): %v, retrying in %v",
				operationName, attempt, err, d.Round(time.Millisecond))
		},
	)
	if err != nil {
		return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempt, err)
	}
	return nil
}
