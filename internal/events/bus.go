package events

import (
	"sync"
)

// Bus is a channel-based pub-sub fanout for scheduler events. Publishing
// never blocks: a subscriber whose channel is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	closed bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel receiving every published event. bufSize
// defaults to 256 if not positive. The channel is closed when the bus is
// closed.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = 256
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers an event to all subscribers without blocking.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Subscriber is not keeping up; drop rather than stall the loop.
		}
	}
}

// Close closes the bus and all subscriber channels. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
}
