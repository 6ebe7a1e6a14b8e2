package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionBlock_Concurrency(t *testing.T) {
	const numWorkers = 5
	const numMessages = 100

	var processedCount int32
	var mu sync.Mutex
	processed := make(map[int]bool)

	action := NewActionBlock(func(input interface{}) error {
		atomic.AddInt32(&processedCount, 1)

		mu.Lock()
		processed[input.(int)] = true
		mu.Unlock()

		return nil
	}, WithBufferSize(numMessages), WithConcurrencyDegree(numWorkers))

	for i := 0; i < numMessages; i++ {
		require.True(t, action.Post(i), "post %d", i)
	}
	action.Complete()
	require.NoError(t, action.Wait())

	assert.Equal(t, int32(numMessages), atomic.LoadInt32(&processedCount))
	mu.Lock()
	assert.Len(t, processed, numMessages)
	mu.Unlock()
}

func TestActionBlock_SequentialPreservesOrder(t *testing.T) {
	var got []int
	action := NewActionBlock(func(input interface{}) error {
		got = append(got, input.(int))
		return nil
	})

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		require.True(t, action.Send(ctx, i))
	}
	action.Complete()
	require.NoError(t, action.Wait())

	want := make([]int, 50)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got)
}

func TestActionBlock_ErrorsAndPanics(t *testing.T) {
	var handled []error
	var mu sync.Mutex
	action := NewActionBlock(func(input interface{}) error {
		switch input.(string) {
		case "fail":
			return errors.New("boom")
		case "panic":
			panic("kaboom")
		}
		return nil
	}, WithBufferSize(3), WithErrorHandler(func(_ interface{}, err error) {
		mu.Lock()
		handled = append(handled, err)
		mu.Unlock()
	}))

	action.Post("fail")
	action.Post("panic")
	action.Post("ok")
	action.Complete()

	err := action.Wait()
	assert.EqualError(t, err, "boom", "first fault is kept")
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, handled, 2)
	assert.Contains(t, handled[1].Error(), "panic in ActionBlock")
}

func TestActionBlock_PostAfterComplete(t *testing.T) {
	action := NewActionBlock(func(interface{}) error { return nil })
	action.Complete()
	require.NoError(t, action.Wait())

	assert.False(t, action.Post(1))
	assert.False(t, action.Send(context.Background(), 1))
}

func TestActionBlock_SendHonoursContext(t *testing.T) {
	release := make(chan struct{})
	action := NewActionBlock(func(interface{}) error {
		<-release
		return nil
	})
	defer func() {
		close(release)
		action.Complete()
		action.Wait()
	}()

	require.True(t, action.Send(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, action.Send(ctx, 2), "worker is busy and input is unbuffered")
}

func TestActionBlock_Cancel(t *testing.T) {
	started := make(chan struct{})
	action := NewActionBlock(func(interface{}) error {
		close(started)
		return nil
	})
	require.True(t, action.Send(context.Background(), 1))
	<-started

	action.Cancel()
	select {
	case <-action.Done():
	case <-time.After(time.Second):
		t.Fatal("block did not stop after Cancel")
	}
	assert.True(t, action.IsCompleted())
}
