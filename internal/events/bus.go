package events

import (
	"sync"
)

// Bus provides pub/sub for emitted events
type Bus struct {
	subscribers map[*subscription]bool
	mu          sync.RWMutex
}

type subscription struct {
	kinds   map[Kind]bool // nil means every kind
	handler Handler
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*subscription]bool),
	}
}

func kindFilter(kinds []Kind) map[Kind]bool {
	if len(kinds) == 0 {
		return nil
	}
	filter := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		filter[k] = true
	}
	return filter
}

// Subscribe registers a handler for the given kinds (all kinds when empty).
// Returns an unsubscribe function.
func (b *Bus) Subscribe(handler Handler, kinds ...Kind) func() {
	sub := &subscription{
		kinds:   kindFilter(kinds),
		handler: handler,
	}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// Publish sends an event to all matching subscribers.
// Handlers run synchronously so subscribers see events in emission order.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.kinds != nil && !sub.kinds[ev.Kind] {
			continue
		}

		sub.handler.OnEvent(ev)
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes everyone
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		delete(b.subscribers, sub)
	}
}
