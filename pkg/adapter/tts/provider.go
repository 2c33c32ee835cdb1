// Package tts defines the Provider interface for speech synthesis backends.
//
// A synthesizer turns one bot reply into playable audio. Replies are short
// conversational sentences, so the interface is batch: one call, one clip.
// The telephony layer handles any re-encoding (mu-law, Opus) and resampling
// for the transport.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

// Request is one reply to synthesize.
type Request struct {
	// Text is the natural-language reply. Plain text, no markup.
	Text string

	// Language selects the voice language.
	Language dialog.Language
}

// Result is the synthesized clip.
type Result struct {
	// Audio is the encoded clip.
	Audio []byte

	// SampleRate is the clip's sample rate in Hz.
	SampleRate int

	// MIMEType names the container/encoding, e.g. "audio/wav" or
	// "audio/mpeg". Empty means raw little-endian 16-bit PCM.
	MIMEType string
}

// Provider is the abstraction over any speech synthesis backend.
type Provider interface {
	// Synthesize renders one reply as audio. The call must respect ctx;
	// synthesis deadlines are enforced by the caller.
	Synthesize(ctx context.Context, req Request) (Result, error)
}
