package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_PublishCoalesces(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe(CollectionTasks)
	defer unsubscribe()

	bus.Publish(CollectionTasks)
	bus.Publish(CollectionTasks)
	bus.Publish(CollectionGroups)

	assert.Len(t, ch, 1)
	<-ch
	assert.Len(t, ch, 0)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	ch, unsubscribe := bus.Subscribe(CollectionUsers)
	assert.Equal(t, 1, bus.Subscribers(CollectionUsers))

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, bus.Subscribers(CollectionUsers))

	_, ok := <-ch
	assert.False(t, ok, "channel is closed on unsubscribe")
	bus.Publish(CollectionUsers)
}
