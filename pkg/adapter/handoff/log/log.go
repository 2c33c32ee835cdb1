// Package log implements a handoff provider that records escalations in the
// service log. It is the default sink for development and demo setups where
// no agent desk is wired up; the audit trail still captures the summary.
package log

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/handoff"
)

// Compile-time interface assertion.
var _ handoff.Provider = (*Notifier)(nil)

// Notifier logs each escalation summary at warn level.
type Notifier struct {
	log *slog.Logger
}

// Option is a functional option for Notifier.
type Option func(*Notifier)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(n *Notifier) {
		if log != nil {
			n.log = log
		}
	}
}

// New constructs a log-backed escalation notifier.
func New(opts ...Option) *Notifier {
	n := &Notifier{log: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Escalate implements [handoff.Provider].
func (n *Notifier) Escalate(ctx context.Context, summary handoff.Summary) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.log.Warn("conversation escalated to human agent",
		"conversation_id", summary.ConversationID,
		"driver_id", summary.DriverID,
		"reason", summary.Reason,
		"intent", summary.Intent,
		"sentiment", summary.Sentiment,
		"slots", formatSlots(summary.Slots),
		"turns", len(summary.History),
	)
	return nil
}

// formatSlots renders slots as "k=v" pairs in key order for stable output.
func formatSlots(slots map[string]string) string {
	if len(slots) == 0 {
		return ""
	}
	keys := make([]string, 0, len(slots))
	for k := range slots {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(slots[k])
	}
	return sb.String()
}
