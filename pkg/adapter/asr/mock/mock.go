// Package mock provides a test double for the asr.Provider interface.
//
// Use Provider to feed controlled transcripts to the turn controller and to
// inspect the audio buffers it submits. Set Queue for per-call scripting or
// Result for a fixed answer.
package mock

import (
	"context"
	"sync"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/asr"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Req is a copy of the request; Audio is copied so later buffer reuse
	// by the caller cannot corrupt the record.
	Req asr.Request
}

// Provider is a mock implementation of asr.Provider.
// Zero values cause Transcribe to return an empty Result and nil error.
type Provider struct {
	mu sync.Mutex

	// Queue holds per-call results consumed in FIFO order. When empty,
	// Result is returned instead.
	Queue []asr.Result

	// Result is returned by Transcribe when Queue is exhausted.
	Result asr.Result

	// TranscribeErr, if non-nil, is returned by every Transcribe call.
	TranscribeErr error

	// TranscribeCalls records every invocation in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the next scripted result.
func (p *Provider) Transcribe(ctx context.Context, req asr.Request) (asr.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := req
	cp.Audio = make([]byte, len(req.Audio))
	copy(cp.Audio, req.Audio)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Req: cp})

	if p.TranscribeErr != nil {
		return asr.Result{}, p.TranscribeErr
	}
	if len(p.Queue) > 0 {
		res := p.Queue[0]
		p.Queue = p.Queue[1:]
		return res, nil
	}
	return p.Result, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Reset clears all recorded calls and the script queue. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
	p.Queue = nil
}

// Ensure Provider implements asr.Provider at compile time.
var _ asr.Provider = (*Provider)(nil)
