// Package session defines the Store contract for conversation state.
//
// A Store keeps one dialog.State per conversation id and provides the
// per-key mutual exclusion that makes each conversation a single-threaded
// actor: at most one turn is in flight per id, turns commit in lock
// acquisition order, and different ids never contend.
//
// Implementations live in subpackages: memory (the default), redis, and
// postgres. All of them honor the same locking contract, so the
// orchestrator never knows which one it is running against.
package session

import (
	"context"
	"errors"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

// ErrClosed is returned by operations on a store after Close.
var ErrClosed = errors.New("session: store is closed")

// Store is the conversation state repository.
//
// Implementations must be safe for concurrent use across conversation ids.
// Within one id, WithLock serializes callers.
type Store interface {
	// GetOrCreate returns the state for id, creating a fresh active state
	// on first sight. The returned value is the caller's copy; mutating it
	// has no effect until Save. An empty id is ErrInvalidInput.
	GetOrCreate(ctx context.Context, id string) (*dialog.State, error)

	// Save persists the state keyed by its ID, replacing any prior value.
	Save(ctx context.Context, st *dialog.State) error

	// WithLock runs fn with exclusive access to the state for id, loading
	// or creating it first. Mutations fn makes are persisted if and only
	// if fn returns nil; on error the stored state is left untouched.
	// fn's error is returned unwrapped so callers can branch on the
	// dialog sentinels.
	WithLock(ctx context.Context, id string, fn func(*dialog.State) error) error

	// Delete removes the state for id. Deleting an absent id is a no-op.
	Delete(ctx context.Context, id string) error

	// Len reports the number of stored conversations.
	Len(ctx context.Context) (int, error)

	// Close releases the store's resources. Operations after Close fail
	// with ErrClosed.
	Close() error
}
