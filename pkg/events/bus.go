package events

import (
	"sync"

	"github.com/carvidal/metrodl/api"
)

// Bus fans pipeline events out to subscribers using channels. The
// session publishes every state/progress change here so surfaces like
// the websocket handler can stream them without polling.
type Bus struct {
	subscribers []chan api.PipelineEvent
	mu          sync.RWMutex
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel receiving every published event.
func (b *Bus) Subscribe() <-chan api.PipelineEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan api.PipelineEvent, 32)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Publish broadcasts an event to all subscribers.
func (b *Bus) Publish(event api.PipelineEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Channel full, skip to prevent blocking
		}
	}
}

// Unsubscribe removes a subscriber channel.
func (b *Bus) Unsubscribe(ch <-chan api.PipelineEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// Close closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
