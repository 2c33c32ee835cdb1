// Package memory provides the default in-process session store.
//
// State lives in a map guarded by a read-write mutex; per-conversation
// exclusion comes from one mutex per entry, so turns on different ids never
// contend. A janitor goroutine purges terminal conversations once they age
// past the retention window.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/session"
)

// Compile-time assertion that Store implements session.Store.
var _ session.Store = (*Store)(nil)

// DefaultRetention is how long terminal conversations are kept before the
// janitor removes them.
const DefaultRetention = 30 * time.Minute

type entry struct {
	mu sync.Mutex
	st *dialog.State
}

// Store is an in-memory session.Store. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool

	retention time.Duration
	sweep     time.Duration
	now       func() time.Time
	log       *slog.Logger

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithRetention sets how long terminal conversations are kept. Zero
// disables the janitor entirely.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// WithSweepInterval sets how often the janitor scans for expired
// conversations. Defaults to one minute.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) { s.sweep = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// New returns a Store with the janitor running (unless retention is zero).
func New(opts ...Option) *Store {
	s := &Store{
		entries:   make(map[string]*entry),
		retention: DefaultRetention,
		sweep:     time.Minute,
		now:       time.Now,
		log:       slog.Default(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retention > 0 {
		go s.janitor()
	} else {
		close(s.done)
	}
	return s
}

// GetOrCreate implements session.Store.
func (s *Store) GetOrCreate(ctx context.Context, id string) (*dialog.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, err := s.entryFor(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.Clone(), nil
}

// Save implements session.Store.
func (s *Store) Save(ctx context.Context, st *dialog.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if st == nil || st.ID == "" {
		return dialog.ErrInvalidInput
	}
	e, err := s.entryFor(st.ID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.st = st.Clone()
	e.mu.Unlock()
	return nil
}

// WithLock implements session.Store. Callers queue on the entry mutex, so
// turns for one conversation commit in acquisition order.
func (s *Store) WithLock(ctx context.Context, id string, fn func(*dialog.State) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := s.entryFor(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// fn works on a copy; the stored state only advances on success.
	st := e.st.Clone()
	if err := fn(st); err != nil {
		return err
	}
	e.st = st
	return nil
}

// Delete implements session.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return session.ErrClosed
	}
	delete(s.entries, id)
	return nil
}

// Len implements session.Store.
func (s *Store) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, session.ErrClosed
	}
	return len(s.entries), nil
}

// Close stops the janitor and rejects further operations.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.stop)
	})
	<-s.done
	return nil
}

// entryFor returns the entry for id, creating it on first sight.
func (s *Store) entryFor(id string) (*entry, error) {
	if id == "" {
		return nil, dialog.ErrInvalidInput
	}

	s.mu.RLock()
	e, ok := s.entries[id]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, session.ErrClosed
	}
	if ok {
		return e, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, session.ErrClosed
	}
	if e, ok := s.entries[id]; ok {
		return e, nil
	}
	e = &entry{st: dialog.NewState(id, dialog.LanguageEN, s.now())}
	s.entries[id] = e
	return e, nil
}

// janitor periodically drops terminal conversations older than retention.
func (s *Store) janitor() {
	defer close(s.done)
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.purgeExpired(); n > 0 {
				s.log.Debug("purged expired sessions", "count", n)
			}
		}
	}
}

// purgeExpired removes terminal entries whose last activity predates the
// retention cutoff. Entries whose turn lock is held are skipped; they are
// live by definition and the next sweep will see them.
func (s *Store) purgeExpired() int {
	cutoff := s.now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int
	for id, e := range s.entries {
		if !e.mu.TryLock() {
			continue
		}
		expired := e.st.Terminal() && e.st.LastActivity.Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(s.entries, id)
			purged++
		}
	}
	return purged
}
