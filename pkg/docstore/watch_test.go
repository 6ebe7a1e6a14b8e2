package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/locvowork/task_management_sample/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type source struct {
	mu    sync.Mutex
	items []string
	err   error
}

func (s *source) set(items []string, err error) {
	s.mu.Lock()
	s.items, s.err = items, err
	s.mu.Unlock()
}

func (s *source) fetch(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.items...), s.err
}

func next(t *testing.T, ch <-chan domain.Snapshot[string]) domain.Snapshot[string] {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "channel closed")
		return snap
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
	return domain.Snapshot[string]{}
}

func TestWatch_DeliversChangesOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &source{items: []string{"a"}}
	bus := NewBus()
	ch := WatchBus(ctx, bus, CollectionTasks, src.fetch, 0)

	assert.Equal(t, []string{"a"}, next(t, ch).Items)

	bus.Publish(CollectionTasks)
	select {
	case snap := <-ch:
		t.Fatalf("unchanged result delivered: %v", snap)
	case <-time.After(50 * time.Millisecond):
	}

	src.set([]string{"a", "b"}, nil)
	bus.Publish(CollectionTasks)
	assert.Equal(t, []string{"a", "b"}, next(t, ch).Items)
}

func TestWatch_ErrorThenRecovery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boom := errors.New("unavailable")
	src := &source{err: boom}
	triggers := make(chan struct{}, 1)
	ch := Watch(ctx, src.fetch, triggers, 0)

	assert.ErrorIs(t, next(t, ch).Err, boom)

	src.set(nil, nil)
	triggers <- struct{}{}
	snap := next(t, ch)
	assert.NoError(t, snap.Err)
	assert.NotNil(t, snap.Items, "empty result is delivered as an empty slice")
	assert.Empty(t, snap.Items)
}

func TestWatch_Interval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &source{items: []string{"x"}}
	ch := Watch(ctx, src.fetch, nil, 10*time.Millisecond)
	next(t, ch)

	src.set([]string{"y"}, nil)
	assert.Equal(t, []string{"y"}, next(t, ch).Items)
}

func TestWatch_ClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &source{}
	ch := Watch(ctx, src.fetch, nil, 0)
	next(t, ch)

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestFailed(t *testing.T) {
	boom := errors.New("no change stream")
	ch := Failed[string](boom)
	assert.ErrorIs(t, (<-ch).Err, boom)
	_, ok := <-ch
	assert.False(t, ok)
}
