package resilience

import (
	"errors"
	"testing"
	"time"
)

func newStringGroup(maxFailures int, resetTimeout time.Duration) *FallbackGroup[string] {
	fg := NewFallbackGroup("elevenlabs", "elevenlabs", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  maxFailures,
			ResetTimeout: resetTimeout,
		},
	})
	fg.AddFallback("coqui", "coqui")
	return fg
}

func TestFallbackGroup_PrimaryWins(t *testing.T) {
	fg := newStringGroup(3, 0)

	var called string
	err := fg.Execute(func(backend string) error {
		called = backend
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "elevenlabs" {
		t.Fatalf("called = %q, want the primary", called)
	}
}

func TestFallbackGroup_FailsOverToNextEntry(t *testing.T) {
	fg := newStringGroup(3, 0)

	var called string
	err := fg.Execute(func(backend string) error {
		if backend == "elevenlabs" {
			return errBackendDown
		}
		called = backend
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "coqui" {
		t.Fatalf("called = %q, want the fallback", called)
	}
}

func TestFallbackGroup_AllEntriesFail(t *testing.T) {
	fg := newStringGroup(3, 0)

	err := fg.Execute(func(string) error { return errBackendDown })
	if err == nil {
		t.Fatal("expected error when every backend fails")
	}
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_OpenBreakerSkipsPrimary(t *testing.T) {
	fg := newStringGroup(2, time.Hour)

	// Fail the primary enough to open its breaker.
	for range 2 {
		_ = fg.Execute(func(backend string) error {
			if backend == "elevenlabs" {
				return errBackendDown
			}
			return nil
		})
	}

	// The primary's breaker is open; calls must go straight to the fallback.
	var called string
	err := fg.Execute(func(backend string) error {
		called = backend
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "coqui" {
		t.Fatalf("called = %q, want coqui while the primary circuit is open", called)
	}
}

func TestExecuteWithResult_PrimaryWins(t *testing.T) {
	fg := newStringGroup(3, 0)

	audio, err := ExecuteWithResult(fg, func(backend string) ([]byte, error) {
		return []byte("pcm-from-" + backend), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio) != "pcm-from-elevenlabs" {
		t.Fatalf("result = %q, want pcm-from-elevenlabs", audio)
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	fg := newStringGroup(3, 0)

	audio, err := ExecuteWithResult(fg, func(backend string) ([]byte, error) {
		if backend == "elevenlabs" {
			return nil, errBackendDown
		}
		return []byte("pcm-from-" + backend), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio) != "pcm-from-coqui" {
		t.Fatalf("result = %q, want pcm-from-coqui", audio)
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	fg := NewFallbackGroup("whisper", "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	_, err := ExecuteWithResult(fg, func(string) (string, error) {
		return "", errBackendDown
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
