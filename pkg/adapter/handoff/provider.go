// Package handoff defines the Provider interface for human-agent escalation.
//
// When a conversation crosses an escalation trigger (anger, explicit agent
// request, exhausted retry or silence budgets, internal failure), the
// orchestrator builds a Summary and hands it to exactly one provider call.
// Where the summary lands (a support queue, a webhook, a staff channel) is
// the provider's business. Escalation must never fail the user-facing turn:
// callers log provider errors and move on.
//
// Implementations must be safe for concurrent use.
package handoff

import (
	"context"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

// Summary is the context package handed to the human agent.
type Summary struct {
	// ConversationID names the escalated session.
	ConversationID string `json:"conversation_id"`

	// DriverID identifies the caller when known.
	DriverID string `json:"driver_id,omitempty"`

	// Reason is the escalation trigger, one of the fixed reason strings
	// the orchestrator emits.
	Reason string `json:"reason"`

	// Intent is the latched intent at escalation time, if any.
	Intent dialog.Intent `json:"intent,omitempty"`

	// Slots are the parameters collected so far.
	Slots map[string]string `json:"slots,omitempty"`

	// Sentiment is the last observed sentiment.
	Sentiment dialog.Sentiment `json:"sentiment,omitempty"`

	// History is the full turn log for agent context.
	History []dialog.Turn `json:"history"`
}

// Provider is the abstraction over any escalation target.
type Provider interface {
	// Escalate delivers one summary to the human-agent side. Implementations
	// should be quick; callers bound the call with a deadline.
	Escalate(ctx context.Context, summary Summary) error
}
