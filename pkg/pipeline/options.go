package pipeline

import (
	"time"
)

// BlockOptions configures the behavior of pipeline blocks
type BlockOptions struct {
	// RetryPolicy defines the retry behavior for operations that can fail
	RetryPolicy *RetryPolicy

	// ConcurrencyDegree specifies the number of concurrent workers processing messages
	// Default is 1 (sequential processing)
	ConcurrencyDegree int

	// BufferSize specifies the capacity of the input channel
	// Default is 0 (unbuffered)
	BufferSize int

	// OnError is called with every action error after retries are exhausted.
	OnError func(msg interface{}, err error)
}

// RetryPolicy defines the retry policy for operations
type RetryPolicy struct {
	// MaxRetries is the maximum number of attempts (including the initial attempt)
	// Default is 1 (no retries)
	MaxRetries int

	// Backoff is the initial backoff duration between retries
	// The actual backoff time is calculated as: Backoff * (attempt + 1)
	Backoff time.Duration
}

// Option is a function that configures BlockOptions
type Option func(*BlockOptions)

// DefaultBlockOptions returns the default block options
func DefaultBlockOptions() BlockOptions {
	return BlockOptions{
		RetryPolicy:       nil,
		ConcurrencyDegree: 1,
		BufferSize:        0,
	}
}

// WithRetryPolicy configures a retry policy for the block
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(o *BlockOptions) {
		o.RetryPolicy = &policy
	}
}

// WithConcurrencyDegree sets the number of concurrent workers. Order is only preserved
// with a single worker.
func WithConcurrencyDegree(degree int) Option {
	return func(o *BlockOptions) {
		if degree > 0 {
			o.ConcurrencyDegree = degree
		}
	}
}

// WithBufferSize sets the buffer size for the input channel
func WithBufferSize(size int) Option {
	return func(o *BlockOptions) {
		if size > 0 {
			o.BufferSize = size
		}
	}
}

// WithErrorHandler sets the callback for failed messages.
func WithErrorHandler(fn func(msg interface{}, err error)) Option {
	return func(o *BlockOptions) {
		o.OnError = fn
	}
}

// applyOptions applies the given options to the default options
func applyOptions(opts []Option) BlockOptions {
	options := DefaultBlockOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
