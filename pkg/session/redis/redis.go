// Package redis provides a Redis-backed session store.
//
// Each conversation is one JSON value under a prefixed key with the
// retention window as its TTL. Per-conversation exclusion uses a SET NX PX
// lease: WithLock spins until it owns the lease, runs the turn, and
// releases only if its token still holds the key, so an expired lease can
// never delete a successor's lock. Suitable when several agent instances
// share one session space.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/session"
)

// Compile-time assertion that Store implements session.Store.
var _ session.Store = (*Store)(nil)

// Defaults for lease handling. A lease must outlive the slowest turn; the
// adapter timeouts bound a turn well under DefaultLeaseTTL.
const (
	DefaultLeaseTTL   = 30 * time.Second
	DefaultRetryEvery = 25 * time.Millisecond
	DefaultTTL        = 30 * time.Minute
	DefaultPrefix     = "voiceagent"
)

// releaseLease deletes the lock key only while the caller's token holds it.
var releaseLease = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// Store is a Redis session.Store. Safe for concurrent use.
type Store struct {
	client *goredis.Client
	prefix string

	ttl        time.Duration
	leaseTTL   time.Duration
	retryEvery time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the retention window applied to every saved conversation.
// Zero keeps conversations forever.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// WithPrefix sets the key prefix. Defaults to "voiceagent".
func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

// WithLeaseTTL sets how long a turn lease lives before Redis reclaims it.
func WithLeaseTTL(d time.Duration) Option {
	return func(s *Store) { s.leaseTTL = d }
}

// WithRetryInterval sets how often WithLock re-attempts lease acquisition.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Store) { s.retryEvery = d }
}

// New returns a Store on the given client.
func New(client *goredis.Client, opts ...Option) *Store {
	s := &Store{
		client:     client,
		prefix:     DefaultPrefix,
		ttl:        DefaultTTL,
		leaseTTL:   DefaultLeaseTTL,
		retryEvery: DefaultRetryEvery,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate implements session.Store. Absent ids yield a fresh active
// state; it is not persisted until Save or a committed WithLock.
func (s *Store) GetOrCreate(ctx context.Context, id string) (*dialog.State, error) {
	if id == "" {
		return nil, dialog.ErrInvalidInput
	}
	data, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return dialog.NewState(id, dialog.LanguageEN, time.Now()), nil
		}
		return nil, fmt.Errorf("redis session: get: %w", err)
	}
	var st dialog.State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("redis session: unmarshal %q: %w", id, err)
	}
	return &st, nil
}

// Save implements session.Store.
func (s *Store) Save(ctx context.Context, st *dialog.State) error {
	if st == nil || st.ID == "" {
		return dialog.ErrInvalidInput
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("redis session: marshal %q: %w", st.ID, err)
	}
	if err := s.client.Set(ctx, s.sessionKey(st.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis session: set: %w", err)
	}
	return nil
}

// WithLock implements session.Store via a lease on lockKey(id).
func (s *Store) WithLock(ctx context.Context, id string, fn func(*dialog.State) error) error {
	if id == "" {
		return dialog.ErrInvalidInput
	}

	token := uuid.NewString()
	if err := s.acquire(ctx, id, token); err != nil {
		return err
	}
	defer s.release(id, token)

	st, err := s.GetOrCreate(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	return s.Save(ctx, st)
}

// Delete implements session.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dialog.ErrInvalidInput
	}
	if err := s.client.Del(ctx, s.sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("redis session: del: %w", err)
	}
	return nil
}

// Len implements session.Store by scanning the session keyspace.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	iter := s.client.Scan(ctx, 0, s.sessionKey("*"), 0).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis session: scan: %w", err)
	}
	return n, nil
}

// Ping reports whether the Redis server answers.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis session: ping: %w", err)
	}
	return nil
}

// Close implements session.Store.
func (s *Store) Close() error {
	return s.client.Close()
}

// acquire spins on SET NX PX until the lease is ours or ctx expires.
func (s *Store) acquire(ctx context.Context, id, token string) error {
	key := s.lockKey(id)
	for {
		ok, err := s.client.SetNX(ctx, key, token, s.leaseTTL).Result()
		if err != nil {
			return fmt.Errorf("redis session: acquire lease: %w", err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("redis session: acquire lease: %w", ctx.Err())
		case <-time.After(s.retryEvery):
		}
	}
}

// release drops the lease if the token still owns it. A fresh context is
// used so a cancelled turn still unlocks its session.
func (s *Store) release(id, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = releaseLease.Run(ctx, s.client, []string{s.lockKey(id)}, token).Err()
}

func (s *Store) sessionKey(id string) string {
	return strings.Join([]string{s.prefix, "session", id}, ":")
}

func (s *Store) lockKey(id string) string {
	return strings.Join([]string{s.prefix, "lock", id}, ":")
}
