package thread

import (
	"context"
	"log/slog"
	"sync"
)

// Event names an entity lifecycle event.
type Event string

const (
	// EventDestroyed fires when a thread is destroyed.
	EventDestroyed Event = "destroyed"

	// EventCompleted fires when a session completes.
	EventCompleted Event = "completed"
)

// ListenerFunc is a lifecycle event callback. A returned error is
// logged and does not stop remaining listeners.
type ListenerFunc func(ctx context.Context) error

// registration pairs a listener with its subscription handle.
type registration struct {
	id int
	fn ListenerFunc
}

// emitter is a per-entity listener registry. Lifetimes are explicit:
// the owning provider clears the registry when the entity is destroyed.
type emitter struct {
	mu        sync.Mutex
	nextID    int
	listeners map[Event][]registration
}

func newEmitter() *emitter {
	return &emitter{
		listeners: make(map[Event][]registration),
	}
}

// subscribe registers fn for event and returns a handle for unsubscribe.
func (e *emitter) subscribe(event Event, fn ListenerFunc) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	e.listeners[event] = append(e.listeners[event], registration{id: e.nextID, fn: fn})
	return e.nextID
}

// unsubscribe removes the registration with the given handle.
func (e *emitter) unsubscribe(event Event, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	regs := e.listeners[event]
	for i, reg := range regs {
		if reg.id == id {
			e.listeners[event] = append(regs[:i], regs[i+1:]...)
			return
		}
	}
}

// emit runs each listener for event sequentially. A listener error is
// logged and the remaining listeners still run.
func (e *emitter) emit(ctx context.Context, event Event) {
	e.mu.Lock()
	regs := make([]registration, len(e.listeners[event]))
	copy(regs, e.listeners[event])
	e.mu.Unlock()

	for _, reg := range regs {
		if err := reg.fn(ctx); err != nil {
			slog.Warn("thread: event listener failed", "event", string(event), "error", err)
		}
	}
}

// clear drops all registrations for all events.
func (e *emitter) clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[Event][]registration)
}
