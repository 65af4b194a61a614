package thread

import (
	"context"
	"time"

	"github.com/txn2/threadsync/pkg/state"
)

// Session is a transient identity scoped to one request execution. It
// owns its own state container and references exactly one parent
// thread. Sessions are never persisted remotely.
type Session struct {
	id        string
	parent    *Thread
	state     *state.Container
	events    *emitter
	createdAt time.Time
}

// NewSession creates a session bound to its parent thread.
func NewSession(id string, parent *Thread) *Session {
	return &Session{
		id:        id,
		parent:    parent,
		state:     state.NewContainer(),
		events:    newEmitter(),
		createdAt: time.Now(),
	}
}

// ID returns the opaque per-request session identifier.
func (s *Session) ID() string {
	return s.id
}

// Thread returns the parent thread.
func (s *Session) Thread() *Thread {
	return s.parent
}

// State returns the session's own state container, independent of the
// parent thread's.
func (s *Session) State() *state.Container {
	return s.state
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// SerializeUserData returns the serialized session state, or nil when
// it exceeds MaxSerializedBytes. Exposed for callers that want to log
// or forward session data; the system itself never persists it.
func (s *Session) SerializeUserData() []byte {
	return serializeCapped(s.state, "session", s.id)
}

// Subscribe registers fn for event and returns an unsubscribe handle.
func (s *Session) Subscribe(event Event, fn ListenerFunc) int {
	return s.events.subscribe(event, fn)
}

// Unsubscribe removes a previously registered listener.
func (s *Session) Unsubscribe(event Event, id int) {
	s.events.unsubscribe(event, id)
}

// Complete fires the completed event, awaiting each listener in turn,
// then clears the listener registry. Listener errors are logged and do
// not interrupt the sequence.
func (s *Session) Complete(ctx context.Context) {
	defer s.events.clear()
	s.events.emit(ctx, EventCompleted)
}
