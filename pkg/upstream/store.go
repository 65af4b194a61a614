// Package upstream implements the thread-persistence service the sync
// channel talks to: the websocket protocol handler and its storage
// backends.
package upstream

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no state exists for a thread.
var ErrNotFound = errors.New("thread state not found")

// Store defines the interface for thread-state persistence.
type Store interface {
	// Get returns the serialized state for threadID, or ErrNotFound.
	Get(ctx context.Context, threadID string) (string, error)

	// Save writes the serialized state for threadID, replacing any
	// previous value.
	Save(ctx context.Context, threadID, userData string) error

	// Delete removes the state for threadID. Deleting an absent thread
	// returns ErrNotFound.
	Delete(ctx context.Context, threadID string) error

	// Close releases store resources.
	Close() error
}
