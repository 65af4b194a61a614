// Package thread defines the durable Thread and per-request Session
// entities. A thread spans many requests under one identifier; a
// session is scoped to a single request execution and references its
// parent thread.
package thread

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/txn2/threadsync/pkg/state"
)

// MaxSerializedBytes caps serialized entity state at 1 MiB. Oversized
// state is dropped from persistence, never a request failure.
const MaxSerializedBytes = 1 << 20

// Thread is a long-lived conversational identity. Its state is
// synchronized to the remote persistence service only when dirty and
// only on explicit save.
type Thread struct {
	id        string
	state     *state.Container
	events    *emitter
	createdAt time.Time

	mu      sync.Mutex
	initial []byte // serialized state baseline for dirty comparison; nil if none
}

// Restore constructs a thread from a restored state snapshot. A nil or
// empty snapshot yields an empty thread; the snapshot bytes are kept
// for later dirty comparison.
func Restore(id string, initial []byte) (*Thread, error) {
	container, err := state.NewContainerFromJSON(initial)
	if err != nil {
		return nil, err
	}

	t := &Thread{
		id:        id,
		state:     container,
		events:    newEmitter(),
		createdAt: time.Now(),
	}
	if len(initial) > 0 {
		t.initial = bytes.Clone(initial)
	}
	return t, nil
}

// New constructs an empty thread with no restore snapshot.
func New(id string) *Thread {
	t, _ := Restore(id, nil)
	return t
}

// ID returns the thread identifier.
func (t *Thread) ID() string {
	return t.id
}

// State returns the thread's state container.
func (t *Thread) State() *state.Container {
	return t.state
}

// CreatedAt returns when this thread instance was constructed.
func (t *Thread) CreatedAt() time.Time {
	return t.createdAt
}

// Empty reports whether the thread has accumulated no state. Callers
// use this to skip network calls entirely.
func (t *Thread) Empty() bool {
	return t.state.Len() == 0
}

// IsDirty reports whether the current serialized state differs from
// the snapshot the thread was restored with. A thread with state but
// no restore snapshot is dirty.
func (t *Thread) IsDirty() bool {
	t.mu.Lock()
	initial := t.initial
	t.mu.Unlock()

	if initial == nil {
		return !t.Empty()
	}
	current, err := t.state.Serialize()
	if err != nil {
		return true
	}
	return !bytes.Equal(current, initial)
}

// SerializeUserData returns the serialized state, or nil when the
// state cannot be serialized or exceeds MaxSerializedBytes. Oversized
// state is dropped with a diagnostic rather than failing the caller.
func (t *Thread) SerializeUserData() []byte {
	return serializeCapped(t.state, "thread", t.id)
}

// MarkSaved records snapshot as the new baseline for dirty comparison,
// typically the bytes just persisted remotely.
func (t *Thread) MarkSaved(snapshot []byte) {
	t.mu.Lock()
	t.initial = bytes.Clone(snapshot)
	t.mu.Unlock()
}

// Subscribe registers fn for event and returns an unsubscribe handle.
func (t *Thread) Subscribe(event Event, fn ListenerFunc) int {
	return t.events.subscribe(event, fn)
}

// Unsubscribe removes a previously registered listener.
func (t *Thread) Unsubscribe(event Event, id int) {
	t.events.unsubscribe(event, id)
}

// Destroy fires the destroyed event, awaiting each listener in turn,
// then clears the listener registry. Listener errors are logged and do
// not interrupt the sequence.
func (t *Thread) Destroy(ctx context.Context) {
	defer t.events.clear()
	t.events.emit(ctx, EventDestroyed)
}

// serializeCapped serializes a container subject to MaxSerializedBytes,
// returning nil (with a diagnostic) when serialization fails or the
// result is oversized.
func serializeCapped(c *state.Container, kind, id string) []byte {
	data, err := c.Serialize()
	if err != nil {
		slog.Warn("thread: state serialization failed", "kind", kind, "id", id, "error", err)
		return nil
	}
	if len(data) > MaxSerializedBytes {
		slog.Warn("thread: state exceeds serialization cap, dropping from persistence",
			"kind", kind, "id", id, "size", len(data), "cap", MaxSerializedBytes)
		return nil
	}
	return data
}
