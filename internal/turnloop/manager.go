package turnloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Manager tracks the controllers of all live calls, keyed by the
// transport's call identifier. All exported methods are safe for concurrent
// use.
type Manager struct {
	pipe *Pipeline
	now  func() time.Time

	mu       sync.Mutex
	defaults Config
	live     map[string]*Controller
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithDefaults sets the controller configuration applied to every call.
// Per-call Start arguments override individual fields.
func WithDefaults(cfg Config) ManagerOption {
	return func(m *Manager) { m.defaults = cfg }
}

// WithManagerClock replaces the wall clock used for call ids.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager builds a call registry over one shared voice pipeline.
func NewManager(pipe *Pipeline, opts ...ManagerOption) (*Manager, error) {
	if pipe == nil {
		return nil, errors.New("turnloop: pipeline must not be nil")
	}
	m := &Manager{
		pipe: pipe,
		now:  time.Now,
		live: make(map[string]*Controller),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start begins the audio loop for one call. key is the transport's call
// identifier (a telephony call SID, a WebSocket connection id); the dialogue
// conversation id is derived from it. Starting a key that is already live is
// an error.
func (m *Manager) Start(ctx context.Context, key string, cfg Config) (*Controller, error) {
	if key == "" {
		return nil, errors.New("turnloop: call key must not be empty")
	}

	merged := m.merge(cfg)
	conversationID := NewCallID(key, m.now())

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.live[key]; exists {
		return nil, fmt.Errorf("turnloop: call %q is already active", key)
	}

	c, err := StartController(ctx, m.pipe, conversationID, merged)
	if err != nil {
		return nil, err
	}
	m.live[key] = c
	m.pipe.metrics.ActiveSessions.Add(ctx, 1)

	m.pipe.log.InfoContext(ctx, "call started",
		slog.String("call_key", key),
		slog.String("conversation_id", conversationID),
		slog.String("language", string(merged.Language)),
	)
	return c, nil
}

// Get returns the live controller for key.
func (m *Manager) Get(key string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.live[key]
	return c, ok
}

// Len reports the number of live calls.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Stop ends the call for key and waits for its loop to finish. Stopping an
// unknown key is an error.
func (m *Manager) Stop(key string) error {
	m.mu.Lock()
	c, ok := m.live[key]
	if ok {
		delete(m.live, key)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("turnloop: no active call %q", key)
	}

	c.Stop()
	m.pipe.metrics.ActiveSessions.Add(context.Background(), -1)
	m.pipe.log.Info("call stopped",
		slog.String("call_key", key),
		slog.String("conversation_id", c.ConversationID()),
		slog.Int64("dropped_chunks", c.Dropped()),
	)
	return nil
}

// SetDefaults replaces the controller defaults. Calls started from now on
// use the new values; live calls keep the configuration they started with.
// Config hot-reload calls this.
func (m *Manager) SetDefaults(cfg Config) {
	m.mu.Lock()
	m.defaults = cfg
	m.mu.Unlock()
}

// StopAll ends every live call. Used on shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	calls := make(map[string]*Controller, len(m.live))
	for k, c := range m.live {
		calls[k] = c
	}
	m.live = make(map[string]*Controller)
	m.mu.Unlock()

	for key, c := range calls {
		c.Stop()
		m.pipe.metrics.ActiveSessions.Add(context.Background(), -1)
		m.pipe.log.Info("call stopped",
			slog.String("call_key", key),
			slog.String("conversation_id", c.ConversationID()),
		)
	}
}

// merge overlays per-call settings on the manager defaults; zero fields keep
// the default, and anything still unset falls back to the package defaults.
func (m *Manager) merge(cfg Config) Config {
	m.mu.Lock()
	out := m.defaults
	m.mu.Unlock()
	if cfg.Language != "" {
		out.Language = cfg.Language
	}
	if cfg.SampleRate > 0 {
		out.SampleRate = cfg.SampleRate
	}
	if cfg.SilenceWindow > 0 {
		out.SilenceWindow = cfg.SilenceWindow
	}
	if cfg.EndOfUtteranceSilence > 0 {
		out.EndOfUtteranceSilence = cfg.EndOfUtteranceSilence
	}
	if cfg.MaxUtterance > 0 {
		out.MaxUtterance = cfg.MaxUtterance
	}
	if cfg.TickInterval > 0 {
		out.TickInterval = cfg.TickInterval
	}
	if cfg.Backpressure != "" {
		out.Backpressure = cfg.Backpressure
	}
	if cfg.QueueLength > 0 {
		out.QueueLength = cfg.QueueLength
	}
	return out.withDefaults()
}

// NewCallID derives a conversation id from a transport call key, formatted
// call-<sanitized key>-<timestamp>.
func NewCallID(key string, now time.Time) string {
	return fmt.Sprintf("call-%s-%s", sanitizeKey(key), now.UTC().Format("20060102T150405Z"))
}

// sanitizeKey lowercases a call key and collapses anything outside
// [a-z0-9-] to hyphens.
func sanitizeKey(key string) string {
	key = strings.ToLower(key)
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
