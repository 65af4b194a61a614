package provider

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/txn2/threadsync/pkg/thread"
)

// SessionProvider creates and completes per-request sessions. Sessions
// are purely in-memory and are never persisted remotely.
type SessionProvider struct {
	mu       sync.Mutex
	sessions map[string]*thread.Session
}

// NewSessionProvider creates an empty session provider.
func NewSessionProvider() *SessionProvider {
	return &SessionProvider{
		sessions: make(map[string]*thread.Session),
	}
}

// Restore creates a fresh session bound to the request's thread and
// registers it for the duration of the request.
func (p *SessionProvider) Restore(_ context.Context, parent *thread.Thread) *thread.Session {
	sess := thread.NewSession(uuid.NewString(), parent)

	p.mu.Lock()
	p.sessions[sess.ID()] = sess
	p.mu.Unlock()

	slog.Debug("provider: session created", "session_id", sess.ID(), "thread_id", parent.ID())
	return sess
}

// Get returns the live session with the given id, or nil.
func (p *SessionProvider) Get(id string) *thread.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions[id]
}

// Save completes the session: the completed event fires and the
// session leaves the registry, so its id can never be resurrected.
func (p *SessionProvider) Save(ctx context.Context, sess *thread.Session) {
	defer func() {
		p.mu.Lock()
		delete(p.sessions, sess.ID())
		p.mu.Unlock()
	}()

	sess.Complete(ctx)
	slog.Debug("provider: session completed", "session_id", sess.ID())
}

// Len returns the number of live sessions.
func (p *SessionProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}
