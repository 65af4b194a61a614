// Package middleware integrates the thread and session providers with
// an HTTP routing layer: restore before the handler, save after, and
// entity access through the request context.
package middleware

import (
	"context"

	"github.com/txn2/threadsync/pkg/thread"
)

// contextKey is a private type for context keys.
type contextKey int

const (
	threadContextKey contextKey = iota
	sessionContextKey
)

// WithThread attaches a thread to the context.
func WithThread(ctx context.Context, th *thread.Thread) context.Context {
	return context.WithValue(ctx, threadContextKey, th)
}

// ThreadFromContext retrieves the request's thread, or nil.
func ThreadFromContext(ctx context.Context) *thread.Thread {
	if th, ok := ctx.Value(threadContextKey).(*thread.Thread); ok {
		return th
	}
	return nil
}

// WithSession attaches a session to the context.
func WithSession(ctx context.Context, sess *thread.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

// SessionFromContext retrieves the request's session, or nil.
func SessionFromContext(ctx context.Context) *thread.Session {
	if sess, ok := ctx.Value(sessionContextKey).(*thread.Session); ok {
		return sess
	}
	return nil
}
