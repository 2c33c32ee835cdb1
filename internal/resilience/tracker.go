package resilience

import (
	"log/slog"
	"sort"
	"sync"
)

// DefaultDegradedThreshold is how many consecutive failures mark an adapter
// degraded.
const DefaultDegradedThreshold = 3

// Tracker counts consecutive failures per adapter kind and flags the adapter
// as degraded once a threshold is crossed. A single success clears the flag.
//
// Degradation is an observability signal only: the tracker never disables an
// adapter, it just feeds health endpoints and logs the transitions. The
// orchestrator and turn loop report every adapter outcome here through their
// failure-observer hook.
type Tracker struct {
	threshold int
	log       *slog.Logger

	mu       sync.Mutex
	failures map[string]int
	degraded map[string]bool
}

// TrackerOption configures a [Tracker].
type TrackerOption func(*Tracker)

// WithThreshold sets the consecutive-failure count that marks an adapter
// degraded. The default is [DefaultDegradedThreshold].
func WithThreshold(n int) TrackerOption {
	return func(t *Tracker) {
		if n > 0 {
			t.threshold = n
		}
	}
}

// WithTrackerLogger sets the logger for degradation transitions.
func WithTrackerLogger(log *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		if log != nil {
			t.log = log
		}
	}
}

// NewTracker returns a ready-to-use [Tracker].
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		threshold: DefaultDegradedThreshold,
		log:       slog.Default(),
		failures:  make(map[string]int),
		degraded:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Observe records the outcome of one adapter call. A nil err resets the
// adapter's failure count and clears its degraded flag; a non-nil err
// increments the count and marks the adapter degraded at the threshold.
func (t *Tracker) Observe(kind string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err == nil {
		if t.degraded[kind] {
			t.log.Info("adapter recovered", "kind", kind)
		}
		t.failures[kind] = 0
		delete(t.degraded, kind)
		return
	}

	t.failures[kind]++
	if t.failures[kind] >= t.threshold && !t.degraded[kind] {
		t.degraded[kind] = true
		t.log.Warn("adapter degraded",
			"kind", kind,
			"consecutive_failures", t.failures[kind])
	}
}

// IsDegraded reports whether the adapter kind is currently flagged.
func (t *Tracker) IsDegraded(kind string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.degraded[kind]
}

// Degraded returns the currently flagged adapter kinds, sorted.
func (t *Tracker) Degraded() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.degraded))
	for kind := range t.degraded {
		out = append(out, kind)
	}
	sort.Strings(out)
	return out
}

// Failures returns a copy of the per-adapter consecutive-failure counts.
func (t *Tracker) Failures() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]int, len(t.failures))
	for kind, n := range t.failures {
		out[kind] = n
	}
	return out
}
