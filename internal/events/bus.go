package events

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Bus is a process-wide named-event channel. Delivery is synchronous and
// FIFO within one event name; no ordering is guaranteed across names.
// A handler registered while a publish pass is running does not receive
// that pass's event.
type Bus struct {
	mu   sync.Mutex
	subs map[Name][]*subscription
	next int
}

type subscription struct {
	seq     int
	handler Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Name][]*subscription)}
}

// Subscribe registers a handler for an event name and returns its
// unsubscribe handle. Unsubscribing twice is harmless.
func (b *Bus) Subscribe(name Name, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{seq: b.next, handler: handler}
	b.next++
	b.subs[name] = append(b.subs[name], sub)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[name]
			for i, s := range list {
				if s == sub {
					b.subs[name] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers payload to every current subscriber of name, in
// subscription order, on the calling goroutine. The subscriber list is
// snapshotted before the first handler runs, so re-entrant Subscribe or
// unsubscribe calls take effect from the next publish.
func (b *Bus) Publish(name Name, payload any) {
	event := Event{
		ID:        uuid.New().String(),
		Name:      name,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	b.mu.Lock()
	snapshot := make([]*subscription, len(b.subs[name]))
	copy(snapshot, b.subs[name])
	b.mu.Unlock()

	for _, sub := range snapshot {
		b.deliver(sub, event)
	}
}

// deliver isolates handler panics so one bad subscriber cannot take down
// the publisher or starve later subscribers.
func (b *Bus) deliver(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("event handler panicked", "event", event.Name, "id", event.ID, "panic", r)
		}
	}()
	sub.handler(event)
}

// SubscriberCount reports the number of handlers registered for name.
func (b *Bus) SubscriberCount(name Name) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[name])
}
