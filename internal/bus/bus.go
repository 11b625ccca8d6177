package bus

import (
	"sync"

	"reqlens/internal/domain"
)

// Handler receives a single event. Delivery is synchronous: Publish does
// not return until every matching handler has run, so a handler reacting
// to "added" can immediately look the transaction up.
type Handler func(domain.Event)

type subscription struct {
	id      int
	handler Handler
}

// Bus is a publish/subscribe registry keyed by event type. Handlers for a
// type are invoked in registration order.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[domain.EventType][]subscription
}

func New() *Bus {
	return &Bus{subs: make(map[domain.EventType][]subscription)}
}

// Subscribe registers h for the given event types (all types when none are
// given) and returns an unsubscribe func. Unsubscribing twice is a no-op.
func (b *Bus) Subscribe(h Handler, types ...domain.EventType) func() {
	if len(types) == 0 {
		types = []domain.EventType{
			domain.EventAdded, domain.EventUpdated, domain.EventRemoved,
			domain.EventReplayStarted, domain.EventReplayCompleted,
		}
	}
	b.mu.Lock()
	b.next++
	id := b.next
	for _, t := range types {
		b.subs[t] = append(b.subs[t], subscription{id: id, handler: h})
	}
	b.mu.Unlock()
	return func() { b.unsubscribe(id, types) }
}

func (b *Bus) unsubscribe(id int, types []domain.EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		list := b.subs[t]
		for i := range list {
			if list[i].id == id {
				b.subs[t] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers ev to all handlers registered for its type. Handlers
// are snapshotted first so a handler may subscribe or unsubscribe without
// deadlocking.
func (b *Bus) Publish(ev domain.Event) {
	b.mu.RLock()
	list := b.subs[ev.Type]
	handlers := make([]Handler, len(list))
	for i := range list {
		handlers[i] = list[i].handler
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}
