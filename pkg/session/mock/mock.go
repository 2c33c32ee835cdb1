// Package mock provides a test double for the session.Store interface.
//
// The mock keeps states in a plain map with a single mutex, records every
// call, and lets tests inject failures per method. It honors the WithLock
// commit rule (mutations persist only when fn returns nil) so orchestrator
// tests observe realistic rollback behavior.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/session"
)

// Compile-time assertion that Store implements session.Store.
var _ session.Store = (*Store)(nil)

// Store is a mock implementation of session.Store. The zero value is ready
// to use.
type Store struct {
	mu     sync.Mutex
	states map[string]*dialog.State

	// GetErr, SaveErr, LockErr, DeleteErr inject failures into the
	// corresponding methods when non-nil.
	GetErr    error
	SaveErr   error
	LockErr   error
	DeleteErr error

	// LockCalls records the conversation ids passed to WithLock, in order.
	LockCalls []string

	// SaveCount counts committed writes (Save plus successful WithLock).
	SaveCount int
}

// GetOrCreate returns the stored state or a fresh active one.
func (s *Store) GetOrCreate(ctx context.Context, id string) (*dialog.State, error) {
	if id == "" {
		return nil, dialog.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	if st, ok := s.states[id]; ok {
		return st.Clone(), nil
	}
	return dialog.NewState(id, dialog.LanguageEN, time.Now()), nil
}

// Save stores a clone of st.
func (s *Store) Save(ctx context.Context, st *dialog.State) error {
	if st == nil || st.ID == "" {
		return dialog.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.put(st)
	return nil
}

// WithLock runs fn under the store mutex and commits on nil.
func (s *Store) WithLock(ctx context.Context, id string, fn func(*dialog.State) error) error {
	if id == "" {
		return dialog.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.LockCalls = append(s.LockCalls, id)
	if s.LockErr != nil {
		return s.LockErr
	}

	st, ok := s.states[id]
	if !ok {
		st = dialog.NewState(id, dialog.LanguageEN, time.Now())
	}
	work := st.Clone()
	if err := fn(work); err != nil {
		return err
	}
	s.put(work)
	return nil
}

// Delete removes the state for id.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	delete(s.states, id)
	return nil
}

// Len reports the number of stored states.
func (s *Store) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states), nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// State returns the committed state for id, or nil. For test assertions.
func (s *Store) State(id string) *dialog.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[id].Clone()
}

// Reset clears all states, call records, and injected errors.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = nil
	s.LockCalls = nil
	s.SaveCount = 0
	s.GetErr, s.SaveErr, s.LockErr, s.DeleteErr = nil, nil, nil, nil
}

// put stores a clone under the caller-held mutex.
func (s *Store) put(st *dialog.State) {
	if s.states == nil {
		s.states = make(map[string]*dialog.State)
	}
	s.states[st.ID] = st.Clone()
	s.SaveCount++
}
