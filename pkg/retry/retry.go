package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrExhausted is wrapped into the error returned once every attempt failed
// with a retryable error.
var ErrExhausted = errors.New("retry attempts exhausted")

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// ErrorClassifier determines if an error is retryable
type ErrorClassifier func(error) bool

// RetryHook runs before attempt number next (2-based) is executed
type RetryHook func(next int, lastErr error)

// RetryOptions defines the configuration for retries
type RetryOptions struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Classifier      ErrorClassifier
	OnRetry         RetryHook
}

// DefaultOptions mirrors the store defaults: ten retries after the first
// attempt, starting at 100ms and capped at 5s.
func DefaultOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:     11,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
	}
}

// Do executes the function with exponential backoff retries.
// A non-retryable error is returned as is. When MaxAttempts retryable
// failures accumulate, the last one is returned wrapped with ErrExhausted.
// A nil Classifier treats every error as retryable.
func Do(ctx context.Context, fn RetryableFunc, opts RetryOptions) error {
	maxAttempts := max(opts.MaxAttempts, 1)

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if opts.Classifier != nil && !opts.Classifier(err) {
			return err
		}
		if attempt >= maxAttempts {
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, maxAttempts, err)
		}

		timer := time.NewTimer(CalculateBackoff(attempt, opts))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, err)
		}
	}
}

// CalculateBackoff returns the wait that follows failed attempt number attempt.
// A MaxInterval of zero leaves the backoff uncapped.
func CalculateBackoff(attempt int, opts RetryOptions) time.Duration {
	if attempt <= 1 {
		return opts.InitialInterval
	}

	multiplier := opts.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	interval := float64(opts.InitialInterval) * math.Pow(multiplier, float64(attempt-1))
	if opts.MaxInterval > 0 && interval > float64(opts.MaxInterval) {
		return opts.MaxInterval
	}
	return time.Duration(interval)
}
