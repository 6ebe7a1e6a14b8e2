// Package docstore holds the pieces every document store backend builds its live queries
// on: a change bus that signals when a collection was written and a watcher that turns a
// one-shot query into a stream of snapshots.
package docstore

import (
	"sync"
)

// Collection names shared by all backends.
const (
	CollectionUsers         = "users"
	CollectionTasks         = "tasks"
	CollectionGroups        = "groups"
	CollectionNotifications = "notifications"
)

// Bus is a thread-safe in-process change bus. Signals carry no payload and coalesce: a
// subscriber that is behind sees one pending signal however many writes happened.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan struct{}
	nextID int
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]chan struct{})}
}

// Publish signals every subscriber of collection. It never blocks.
func (b *Bus) Publish(collection string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[collection] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe registers interest in collection. The returned function unsubscribes and closes
// the channel.
func (b *Bus) Subscribe(collection string) (<-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan struct{}, 1)
	if b.subs[collection] == nil {
		b.subs[collection] = make(map[int]chan struct{})
	}
	b.subs[collection][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[collection], id)
			if len(b.subs[collection]) == 0 {
				delete(b.subs, collection)
			}
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscriptions on collection.
func (b *Bus) Subscribers(collection string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[collection])
}
