package dialog

import (
	"context"
	"errors"
	"fmt"
)

// The error taxonomy of the conversation core. Adapter failures are
// recovered inside the orchestrator and turn controller; only these kinds
// cross package boundaries, so callers can branch with errors.Is.
var (
	// ErrSessionTerminal means a turn arrived for a completed or escalated
	// conversation. State is never mutated in this case.
	ErrSessionTerminal = errors.New("dialog: session is terminal")

	// ErrAdapterTimeout means an adapter call exceeded its per-turn deadline.
	ErrAdapterTimeout = errors.New("dialog: adapter timed out")

	// ErrAdapterUnavailable means an adapter reported a non-recoverable error.
	ErrAdapterUnavailable = errors.New("dialog: adapter unavailable")

	// ErrRecognizerEmpty means recognition produced no usable text. The
	// voice loop treats it like a silent turn.
	ErrRecognizerEmpty = errors.New("dialog: recognizer returned empty text")

	// ErrInvalidInput means a request is missing required fields. No
	// session is created for such requests.
	ErrInvalidInput = errors.New("dialog: invalid input")

	// ErrInternal means an invariant was violated. The session escalates.
	ErrInternal = errors.New("dialog: internal error")
)

// ClassifyAdapterErr folds a raw adapter error onto the taxonomy: deadline
// expiry becomes ErrAdapterTimeout, everything else ErrAdapterUnavailable.
// The original error stays in the chain for logging.
func ClassifyAdapterErr(kind string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrAdapterTimeout, kind, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrAdapterUnavailable, kind, err)
}
