package dataflow

import (
	"time"
)

// Option configures a retried operation.
type Option func(*config)

type config struct {
	maxRetries int
	backoff    func(int) time.Duration
	// errorHandler decides whether an error ends the retry loop early. If it returns true the
	// error is final and returned as is.
	errorHandler func(error) bool
	onRetry      func(attempt int, err error)
}

// defaultConfig returns the default configuration: a single attempt, no backoff.
func defaultConfig() *config {
	return &config{
		maxRetries: 0,
		backoff:    ConstantBackoff(0),
	}
}

// WithRetry enables retry logic. maxRetries counts retries after the first attempt.
func WithRetry(maxRetries int, backoff func(attempt int) time.Duration) Option {
	return func(c *config) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if backoff != nil {
			c.backoff = backoff
		}
	}
}

// WithErrorHandler sets a custom error handler.
// If the handler returns true, the error is considered final and no further attempt is made.
func WithErrorHandler(h func(error) bool) Option {
	return func(c *config) {
		c.errorHandler = h
	}
}

// WithOnRetry registers a hook called before each retry with the attempt number (1-based)
// and the error that caused it.
func WithOnRetry(h func(attempt int, err error)) Option {
	return func(c *config) {
		c.onRetry = h
	}
}

// ConstantBackoff returns a backoff function that always returns the same duration.
func ConstantBackoff(d time.Duration) func(int) time.Duration {
	return func(_ int) time.Duration {
		return d
	}
}

// ExponentialBackoff returns a backoff function that increases the duration exponentially.
// backoff = initial * 2^(attempt-1)
func ExponentialBackoff(initial time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt <= 1 {
			return initial
		}
		return initial * time.Duration(1<<(attempt-1))
	}
}

// CappedBackoff bounds another backoff function at max.
func CappedBackoff(backoff func(int) time.Duration, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if d := backoff(attempt); d < max {
			return d
		}
		return max
	}
}
