package config_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HeckSmart/multilingual-voiceagent/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
dialog:
  confidence_threshold: 0.6
`

const watcherUpdatedYAML = `
server:
  log_level: debug
dialog:
  confidence_threshold: 0.75
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

// watchedFile writes content to a fresh temp config file and returns its path.
func watchedFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	rewriteFile(t, path, content)
	return path
}

// rewriteFile replaces the file at path with content.
func rewriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := watchedFile(t, watcherValidYAML)

	w, err := config.NewWatcher(path, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	// Unset sections fall back to defaults.
	if cfg.SessionStore.Name != "memory" {
		t.Errorf("session_store.name: got %q, want memory", cfg.SessionStore.Name)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	path := watchedFile(t, watcherValidYAML)

	type change struct{ old, new *config.Config }
	changes := make(chan change, 1)

	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		select {
		case changes <- change{old, new}:
		default:
		}
	}, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	// Let at least one poll pass, then edit the file.
	time.Sleep(100 * time.Millisecond)
	rewriteFile(t, path, watcherUpdatedYAML)

	var got change
	select {
	case got = <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	if got.old == nil || got.new == nil {
		t.Fatal("callback received nil configs")
	}
	if got.old.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level: got %q, want %q", got.old.Server.LogLevel, config.LogInfo)
	}
	if got.new.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level: got %q, want %q", got.new.Server.LogLevel, config.LogDebug)
	}
	if got.new.Dialog.ConfidenceThreshold != 0.75 {
		t.Errorf("new confidence_threshold: got %.2f, want 0.75", got.new.Dialog.ConfidenceThreshold)
	}

	if cur := w.Current(); cur.Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want %q", cur.Server.LogLevel, config.LogDebug)
	}
}

func TestWatcher_InvalidEditKeepsOldConfig(t *testing.T) {
	t.Parallel()
	path := watchedFile(t, watcherValidYAML)

	var calls atomic.Int32
	w, err := config.NewWatcher(path, func(_, _ *config.Config) {
		calls.Add(1)
	}, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	rewriteFile(t, path, watcherInvalidYAML)

	// Several polls; the broken edit must be noticed and rejected.
	time.Sleep(300 * time.Millisecond)

	if n := calls.Load(); n != 0 {
		t.Errorf("callback fired %d times for an invalid edit, want 0", n)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() should still hold the old config, got log_level=%q", cur.Server.LogLevel)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	path := watchedFile(t, watcherValidYAML)

	w, err := config.NewWatcher(path, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w.Stop()
	w.Stop()
	w.Stop()
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	path := watchedFile(t, watcherValidYAML)

	var calls atomic.Int32
	w, err := config.NewWatcher(path, func(_, _ *config.Config) {
		calls.Add(1)
	}, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Stop()

	// Refresh the mtime without changing the bytes.
	time.Sleep(100 * time.Millisecond)
	now := time.Now().Add(time.Second)
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}

	time.Sleep(300 * time.Millisecond)

	if n := calls.Load(); n != 0 {
		t.Errorf("callback fired %d times for a touch-only write, want 0", n)
	}
}
