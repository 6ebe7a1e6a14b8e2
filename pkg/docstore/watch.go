package docstore

import (
	"context"
	"reflect"
	"time"

	"github.com/locvowork/task_management_sample/internal/domain"
)

// FetchFunc runs the query behind a live subscription once.
type FetchFunc[T any] func(ctx context.Context) ([]T, error)

// Watch runs fetch immediately and then again whenever triggers fires or, if interval is
// positive, every interval. A snapshot is delivered for the first result, for every result
// that differs from the previous delivery, and for every error. The returned channel is
// closed when ctx is done or triggers is closed.
func Watch[T any](ctx context.Context, fetch FetchFunc[T], triggers <-chan struct{}, interval time.Duration) <-chan domain.Snapshot[T] {
	out := make(chan domain.Snapshot[T], 1)

	go func() {
		defer close(out)

		var tick <-chan time.Time
		if interval > 0 {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			tick = ticker.C
		}

		var last []T
		delivered := false
		run := func() bool {
			items, err := fetch(ctx)
			if ctx.Err() != nil {
				return false
			}
			if err != nil {
				delivered = false
				return send(ctx, out, domain.Snapshot[T]{Err: err})
			}
			if items == nil {
				items = []T{}
			}
			if delivered && reflect.DeepEqual(items, last) {
				return true
			}
			last, delivered = items, true
			return send(ctx, out, domain.Snapshot[T]{Items: items})
		}

		if !run() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-triggers:
				if !ok {
					return
				}
			case <-tick:
			}
			if !run() {
				return
			}
		}
	}()

	return out
}

// WatchBus is Watch triggered by writes to collection on bus.
func WatchBus[T any](ctx context.Context, bus *Bus, collection string, fetch FetchFunc[T], interval time.Duration) <-chan domain.Snapshot[T] {
	triggers, unsubscribe := bus.Subscribe(collection)
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
	return Watch(ctx, fetch, triggers, interval)
}

// Failed returns a closed-after-one-delivery channel carrying err. Backends use it when a
// watch cannot be set up at all.
func Failed[T any](err error) <-chan domain.Snapshot[T] {
	out := make(chan domain.Snapshot[T], 1)
	out <- domain.Snapshot[T]{Err: err}
	close(out)
	return out
}

func send[T any](ctx context.Context, out chan<- domain.Snapshot[T], snap domain.Snapshot[T]) bool {
	select {
	case out <- snap:
		return true
	case <-ctx.Done():
		return false
	}
}
