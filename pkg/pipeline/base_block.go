package pipeline

import (
	"context"
	"sync"
)

// BaseBlock carries the lifecycle shared by all blocks: a cancellation context, the worker
// wait group and the first fault.
type BaseBlock struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	fault error
	done  chan struct{}
	once  sync.Once
}

// NewBaseBlock returns a running block lifecycle.
func NewBaseBlock() *BaseBlock {
	ctx, cancel := context.WithCancel(context.Background())
	return &BaseBlock{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Fault records err. Only the first fault is kept.
func (b *BaseBlock) Fault(err error) {
	if err == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fault == nil {
		b.fault = err
	}
}

// Err returns the first fault, if any.
func (b *BaseBlock) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fault
}

// SignalCompletion marks the block as completed. Safe to call more than once.
func (b *BaseBlock) SignalCompletion() {
	b.once.Do(func() { close(b.done) })
}

// IsCompleted reports whether the block finished or was cancelled.
func (b *BaseBlock) IsCompleted() bool {
	select {
	case <-b.done:
		return true
	default:
		return b.ctx.Err() != nil
	}
}

// Done is closed once all workers have exited.
func (b *BaseBlock) Done() <-chan struct{} { return b.done }

// Cancel stops the workers without draining pending messages.
func (b *BaseBlock) Cancel() {
	b.cancel()
}

// Wait blocks until all workers have exited and returns the first fault.
func (b *BaseBlock) Wait() error {
	<-b.done
	return b.Err()
}
