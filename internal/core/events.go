package core

import (
	"sync"
	"sync/atomic"
)

// EventKind names an observable notification.
type EventKind string

const (
	EventChange  EventKind = "change"
	EventUpdate  EventKind = "update"
	EventDestroy EventKind = "destroy"
)

// Event is delivered to handlers. Fields that do not apply to the emitting
// component are nil.
type Event struct {
	Kind       EventKind
	Manager    *Manager
	Collection *Collection
	Model      *Model
	// Changed lists the attributes a change event covers.
	Changed []string
	// Cause is the kind that prompted a manager broadcast.
	Cause   EventKind
	Payload any
}

// Handler observes events.
type Handler func(Event)

type subscription struct {
	fn     Handler
	active atomic.Bool
}

// Emitter delivers events synchronously in registration order. Handlers are
// never invoked while the emitter lock is held, so they may subscribe,
// unsubscribe or emit again.
type Emitter struct {
	mu   sync.Mutex
	subs map[EventKind][]*subscription
}

// On registers fn for kind and returns a function that removes it.
func (e *Emitter) On(kind EventKind, fn Handler) (cancel func()) {
	sub := &subscription{fn: fn}
	sub.active.Store(true)
	e.mu.Lock()
	if e.subs == nil {
		e.subs = make(map[EventKind][]*subscription)
	}
	e.subs[kind] = append(e.subs[kind], sub)
	e.mu.Unlock()
	return func() {
		if !sub.active.CompareAndSwap(true, false) {
			return
		}
		e.mu.Lock()
		list := e.subs[kind]
		for i, s := range list {
			if s == sub {
				e.subs[kind] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		e.mu.Unlock()
	}
}

// Emit delivers ev to every handler registered for ev.Kind.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	list := append([]*subscription(nil), e.subs[ev.Kind]...)
	e.mu.Unlock()
	for _, sub := range list {
		if sub.active.Load() {
			sub.fn(ev)
		}
	}
}

// Count returns the number of handlers registered for kind.
func (e *Emitter) Count(kind EventKind) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs[kind])
}
