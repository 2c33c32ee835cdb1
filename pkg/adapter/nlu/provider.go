// Package nlu defines the Provider interface for language understanding
// backends.
//
// An understander classifies one user utterance into an intent from the
// closed set in pkg/dialog, extracts entity values for slot filling, scores
// its own confidence, and labels the utterance's sentiment. Providers range
// from a deterministic keyword matcher to LLM-backed classifiers; the
// orchestrator treats them identically and applies its own confidence gate.
//
// Implementations must be safe for concurrent use.
package nlu

import (
	"context"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

// Provider is the abstraction over any language understanding backend.
type Provider interface {
	// Analyze classifies a single utterance. The language is the session's
	// negotiated language; providers may use it to pick models or keyword
	// tables. Confidence must land in [0,1]; the orchestrator compares it
	// against its configured threshold and never second-guesses the value.
	Analyze(ctx context.Context, text string, lang dialog.Language) (dialog.NLUResult, error)
}
