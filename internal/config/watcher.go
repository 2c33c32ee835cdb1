package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// snapshot is one parsed read of the config file: the validated config plus
// the content hash and modification time used for change detection.
type snapshot struct {
	cfg   *Config
	hash  [sha256.Size]byte
	mtime time.Time
}

// Watcher monitors a config file for changes and calls a callback when the
// file is modified. It uses polling (not fsnotify) to keep dependencies
// minimal; a 5 s interval is plenty for operator-edited files.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu   sync.Mutex
	last snapshot

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption customises a [Watcher] before it starts polling.
type WatcherOption func(*Watcher)

// WithInterval overrides the default 5 s polling interval. Non-positive
// values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and begins polling it for edits in a
// background goroutine.
//
// onChange runs outside the watcher lock, once per observed content change,
// and only for configs that passed validation; invalid edits are logged and
// the previous config stays current.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.last = snap

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.cfg
}

// Stop stops the file watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

// poll checks the config file every interval until Stop is called.
func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reads the config file and, when its content has changed and still
// parses cleanly, swaps in the new config and invokes onChange.
func (w *Watcher) check() {
	// Cheap mtime gate first so unchanged files are never re-hashed.
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	if !w.mtimeAdvanced(info.ModTime()) {
		return
	}

	snap, err := w.read()
	if err != nil {
		slog.Warn("config watcher: failed to load config", "path", w.path, "err", err)
		return
	}

	old, changed := w.swap(snap)
	if !changed {
		return
	}

	slog.Info("config watcher: configuration reloaded", "path", w.path)

	// The callback runs outside the lock so it can safely call Current().
	if w.onChange != nil {
		w.onChange(old, snap.cfg)
	}
}

// mtimeAdvanced reports whether the file's modification time differs from the
// last one observed.
func (w *Watcher) mtimeAdvanced(mtime time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !mtime.Equal(w.last.mtime)
}

// swap installs snap as current unless its hash matches the last seen
// content. The mtime is recorded either way so a touch-only write stops
// triggering re-hashes. Returns the previous config and whether a swap
// happened.
func (w *Watcher) swap(snap snapshot) (*Config, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if snap.hash == w.last.hash {
		w.last.mtime = snap.mtime
		return nil, false
	}

	old := w.last.cfg
	w.last = snap
	return old, true
}

// read loads the config file, parses + validates it, and returns the
// resulting snapshot. Reading through a single handle keeps the hash and
// mtime consistent even if the file is rewritten mid-poll.
func (w *Watcher) read() (snapshot, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return snapshot{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return snapshot{}, err
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return snapshot{}, err
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}

	return snapshot{
		cfg:   cfg,
		hash:  sha256.Sum256(data),
		mtime: info.ModTime(),
	}, nil
}
