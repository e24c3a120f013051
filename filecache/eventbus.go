package filecache

import (
	gosync "sync"
	"sync/atomic"
)

// subscriberBuffer is how many events a client may fall behind before it
// starts missing them.
const subscriberBuffer = 16

// EventBus broadcasts Events to every subscribed stream client.
type EventBus struct {
	mu      gosync.RWMutex
	clients map[chan Event]struct{}
	dropped atomic.Int64
}

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	return &EventBus{
		clients: make(map[chan Event]struct{}),
	}
}

// Subscribe registers a new client and returns its event channel.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends an event to all clients. Slow clients miss the event.
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of connected clients.
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Dropped returns how many deliveries were skipped because a client was full.
func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}
