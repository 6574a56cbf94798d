package eventbus

import (
	"sync"
	"time"
)

// Event types routed through the bus.
const (
	TypeOrderFilled = "order.filled"
)

// Event is an in-process notification about an order's lifecycle.
type Event struct {
	Type      string
	OrderID   int64
	Timestamp time.Time
	Data      any
}

// Bus routes events to subscribers by event type over Go channels. It is
// safe for concurrent use. Delivery is best effort: a subscriber whose
// channel is full misses the event.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan<- Event
	closed      bool
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan<- Event),
	}
}

// Subscribe registers a channel to receive events of the given type. The
// caller sizes the channel buffer; an unbuffered channel will drop every
// event published while the subscriber is busy.
func (b *Bus) Subscribe(eventType string, ch chan<- Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)
}

// Publish delivers the event to every subscriber of its type. Publish is a
// no-op after Close.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers[evt.Type] {
		select {
		case ch <- evt:
		default:
			// subscriber is behind; drop
		}
	}
}

// Close marks the bus as closed. Subscriber channels are not closed here;
// their owners close them.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
