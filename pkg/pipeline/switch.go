package pipeline

import (
	"context"
	"sync"
)

// Switch forwards items from one upstream channel at a time to a sink. Replace tears the
// current upstream down and starts a new one; once Replace returns, no item of the replaced
// upstream reaches the sink. This is the stage used when the parameters of a live query are
// derived from another stream's output.
type Switch[T any] struct {
	parent context.Context
	sink   func(T)

	mu     sync.Mutex
	key    string
	active bool
	cancel context.CancelFunc
	gen    uint64

	// deliver serializes sink calls with generation changes.
	deliver sync.Mutex
	wg      sync.WaitGroup
}

// NewSwitch returns a Switch whose upstreams live at most as long as ctx.
func NewSwitch[T any](ctx context.Context, sink func(T)) *Switch[T] {
	return &Switch[T]{parent: ctx, sink: sink}
}

// Replace makes start(ctx) the upstream for key. It is a no-op returning false when key is
// already the active key. A nil start only tears the current upstream down. The sink must
// not call Replace on the same Switch.
func (s *Switch[T]) Replace(key string, start func(ctx context.Context) <-chan T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active && s.key == key {
		return false
	}

	s.deliver.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	gen := s.gen
	s.deliver.Unlock()

	s.key = key
	s.active = start != nil
	if start == nil {
		return true
	}

	ctx, cancel := context.WithCancel(s.parent)
	s.cancel = cancel
	ch := start(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-ch:
				if !ok {
					return
				}
				s.deliver.Lock()
				if s.gen == gen {
					s.sink(item)
				}
				s.deliver.Unlock()
			}
		}
	}()
	return true
}

// Key returns the active key and whether an upstream is running.
func (s *Switch[T]) Key() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key, s.active
}

// Stop tears down the active upstream and waits for its forwarding goroutine to exit.
func (s *Switch[T]) Stop() {
	s.Replace("", nil)
	s.mu.Lock()
	s.key = ""
	s.mu.Unlock()
	s.wg.Wait()
}
