package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ActionFunc defines the function signature for actions
type ActionFunc func(interface{}) error

// ActionBlock executes an action for each posted message. With the default single worker
// messages are handled one at a time in posting order, which makes the block usable as a
// serialized delivery path.
type ActionBlock struct {
	*BaseBlock
	input    chan interface{}
	action   ActionFunc
	stopOnce sync.Once
	options  BlockOptions
}

// NewActionBlock creates a new ActionBlock with the specified action function and options
// Default behavior: no retry, sequential processing (1 worker)
func NewActionBlock(action ActionFunc, opts ...Option) *ActionBlock {
	options := applyOptions(opts)

	b := &ActionBlock{
		BaseBlock: NewBaseBlock(),
		input:     make(chan interface{}, options.BufferSize),
		action:    action,
		options:   options,
	}

	b.wg.Add(options.ConcurrencyDegree)
	for i := 0; i < options.ConcurrencyDegree; i++ {
		go b.process()
	}
	go func() {
		b.wg.Wait()
		b.SignalCompletion()
	}()

	return b
}

// Post offers a message without blocking. It returns false when the block is completed or
// the buffer is full.
func (b *ActionBlock) Post(message interface{}) (ok bool) {
	if b.IsCompleted() {
		return false
	}
	defer func() {
		// Complete may close input concurrently.
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case b.input <- message:
		return true
	default:
		return false
	}
}

// Send blocks until the message is accepted, ctx is done or the block is cancelled.
func (b *ActionBlock) Send(ctx context.Context, message interface{}) (ok bool) {
	if b.IsCompleted() {
		return false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case b.input <- message:
		return true
	case <-ctx.Done():
		return false
	case <-b.ctx.Done():
		return false
	}
}

// process handles the message processing loop for a single worker
func (b *ActionBlock) process() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-b.input:
			if !ok {
				return
			}

			if err := b.executeAction(msg); err != nil {
				b.Fault(err)
				if b.options.OnError != nil {
					b.options.OnError(msg, err)
				}
			}
		}
	}
}

func (b *ActionBlock) safeAction(msg interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in ActionBlock: %v", r)
		}
	}()
	return b.action(msg)
}

// executeAction executes the action function with retry logic if configured
func (b *ActionBlock) executeAction(msg interface{}) error {
	if b.options.RetryPolicy == nil || b.options.RetryPolicy.MaxRetries <= 1 {
		return b.safeAction(msg)
	}

	var lastErr error
	maxAttempts := b.options.RetryPolicy.MaxRetries

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := b.safeAction(msg)
		if err == nil {
			return nil
		}

		lastErr = err

		if attempt == maxAttempts-1 {
			break
		}

		if b.options.RetryPolicy.Backoff > 0 {
			backoff := time.Duration(attempt+1) * b.options.RetryPolicy.Backoff
			select {
			case <-time.After(backoff):
			case <-b.ctx.Done():
				return b.ctx.Err()
			}
		}
	}

	return lastErr
}

// Complete closes the input. Workers drain what is already queued and exit.
func (b *ActionBlock) Complete() {
	b.stopOnce.Do(func() {
		close(b.input)
	})
}
