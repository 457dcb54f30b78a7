package events

import (
	"sync"

	"mcphub/pkg/logging"
)

// subscriberBufferSize bounds each subscriber's channel. A subscriber
// that cannot keep up loses events rather than stalling the publisher.
const subscriberBufferSize = 100

// Bus fans hub events out to subscribers. Publishing never blocks: slow
// subscribers drop events. Subscribers are identified by caller-supplied
// IDs so the SSE layer can reuse its connection IDs.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	closed      bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string]chan Event),
	}
}

// Subscribe registers a subscriber under id and returns its channel. The
// channel is closed on Unsubscribe or Close.
func (b *Bus) Subscribe(id string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, subscriberBufferSize)
	b.subscribers[id] = ch
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids
// are ignored.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Publish stamps and delivers an event to all current subscribers.
func (b *Bus) Publish(t Type, data map[string]interface{}) {
	b.publish(NewEvent(t, data))
}

func (b *Bus) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			// A dropped log event must not log again, or the log bridge
			// feeds the drop back into the bus forever.
			if ev.Type != TypeLog {
				logging.Debug("Events", "Dropping %s event for slow subscriber %s", ev.Type, id)
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close shuts the bus down and closes all subscriber channels. Publishes
// after Close are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
