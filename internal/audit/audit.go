// Package audit persists escalation summaries as append-only JSON lines in
// a local file. Every successful handoff leaves one record behind, so support
// leads can review why calls left the bot without digging through logs.
//
// The log is deliberately simple: one flat JSON object per line, no
// rotation, no fsync. For heavier traffic this should move to a proper
// sink, but a file matches the review tooling the support team already has.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/HeckSmart/multilingual-voiceagent/internal/orchestrator"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/handoff"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

// Compile-time interface check.
var _ orchestrator.EscalationRecorder = (*Log)(nil)

// Record is a single escalation entry written to the log.
type Record struct {
	Time           time.Time         `json:"time"`
	ConversationID string            `json:"conversation_id"`
	DriverID       string            `json:"driver_id,omitempty"`
	Reason         string            `json:"reason"`
	Intent         dialog.Intent     `json:"intent,omitempty"`
	Slots          map[string]string `json:"slots,omitempty"`
	Sentiment      dialog.Sentiment  `json:"sentiment,omitempty"`
	Turns          int               `json:"turns"`
}

// Log appends escalation records to a JSONL file. Safe for concurrent use.
type Log struct {
	mu   sync.Mutex
	f    *os.File
	now  func() time.Time
	path string
}

// Option configures a [Log].
type Option func(*Log)

// WithClock substitutes the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// Open creates or opens the audit log at path for appending.
func Open(path string, opts ...Option) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open %q: %w", path, err)
	}
	l := &Log{f: f, now: time.Now, path: path}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// RecordEscalation appends one escalation summary to the log.
func (l *Log) RecordEscalation(ctx context.Context, s handoff.Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec := Record{
		Time:           l.now().UTC(),
		ConversationID: s.ConversationID,
		DriverID:       s.DriverID,
		Reason:         s.Reason,
		Intent:         s.Intent,
		Slots:          s.Slots,
		Sentiment:      s.Sentiment,
		Turns:          len(s.History),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return fmt.Errorf("audit: log %q is closed", l.path)
	}
	if _, err := l.f.Write(data); err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file. Subsequent writes fail.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	if err != nil {
		return fmt.Errorf("audit: close: %w", err)
	}
	return nil
}
