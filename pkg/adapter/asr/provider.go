// Package asr defines the Provider interface for speech recognition backends.
//
// A recognizer wraps a transcription service (a local whisper.cpp server, the
// native whisper bindings, or a hosted API) behind a uniform batch interface:
// the turn controller buffers one complete utterance, the recognizer turns it
// into text. Streaming partials are deliberately out of scope; utterance
// boundaries are owned by the voice activity detector, not the provider.
//
// Implementations must be safe for concurrent use; one recognizer serves all
// live sessions.
package asr

import (
	"context"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

// Request is one complete utterance to transcribe.
type Request struct {
	// Audio is mono little-endian 16-bit PCM.
	Audio []byte

	// SampleRate is the PCM sample rate in Hz. Recognizers generally want
	// 16000; callers resample before submitting.
	SampleRate int

	// Language hints the recognition language. Providers that auto-detect
	// may ignore it.
	Language dialog.Language
}

// Result is the transcription outcome.
type Result struct {
	// Text is the recognized utterance, whitespace-trimmed. May be empty
	// when the provider heard nothing usable; callers treat that as a
	// silent turn.
	Text string
}

// Provider is the abstraction over any speech recognition backend.
type Provider interface {
	// Transcribe converts one buffered utterance into text. The call must
	// respect ctx; recognition deadlines are enforced by the caller.
	Transcribe(ctx context.Context, req Request) (Result, error)
}
