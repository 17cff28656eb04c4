package vm

import (
	"sync"
	"time"

	infinity "github.com/Code-Hex/go-infinity-channel"
)

// EventType names an orchestrator notification.
type EventType string

const (
	EventListChanged  EventType = "list_changed"
	EventStateChanged EventType = "state_changed"
	EventCreated      EventType = "created"
	EventDeleted      EventType = "deleted"
	EventError        EventType = "error"
	EventStarted      EventType = "started"
	EventExited       EventType = "exited"
)

// Event is delivered to subscribers in publish order.
type Event struct {
	Type     EventType `json:"type"`
	Name     string    `json:"name,omitempty"`
	Status   Status    `json:"status,omitzero"`
	ExitCode int       `json:"exit_code,omitempty"`
	Crashed  bool      `json:"crashed,omitempty"`
	Message  string    `json:"message,omitempty"`
	Time     time.Time `json:"time"`
}

// EventBus fans events out to subscribers. Each subscriber gets its own
// unbounded queue, so a slow reader never blocks a publisher.
type EventBus struct {
	mu     sync.Mutex
	subs   map[uint64]*infinity.Channel[Event]
	nextID uint64
	closed bool
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[uint64]*infinity.Channel[Event])}
}

// Subscribe returns a channel of future events and a function that ends
// the subscription. The channel is closed when the subscription ends or
// the bus is closed.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	ch := infinity.NewChannel[Event]()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		ch.Close()
		return ch.Out(), func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			_, ok := b.subs[id]
			delete(b.subs, id)
			b.mu.Unlock()
			if ok {
				closeAndDrain(ch)
			}
		})
	}
	return ch.Out(), cancel
}

// Publish stamps ev if needed and queues it for every subscriber.
func (b *EventBus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		ch.In() <- ev
	}
}

// Close ends all subscriptions. Later publishes are dropped.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		ch.Close()
	}
}

// closeAndDrain closes a subscription whose reader has gone away and
// discards anything still queued.
func closeAndDrain(ch *infinity.Channel[Event]) {
	ch.Close()
	go func() {
		for range ch.Out() {
		}
	}()
}
