// Package mock provides a test double for the handoff.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/handoff"
)

// EscalateCall records a single invocation of Escalate.
type EscalateCall struct {
	Ctx     context.Context
	Summary handoff.Summary
}

// Provider is a mock implementation of handoff.Provider.
type Provider struct {
	mu sync.Mutex

	// EscalateErr is returned by Escalate when set.
	EscalateErr error

	// EscalateCalls records every invocation in order.
	EscalateCalls []EscalateCall
}

// Escalate records the call and returns EscalateErr.
func (p *Provider) Escalate(ctx context.Context, s handoff.Summary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EscalateCalls = append(p.EscalateCalls, EscalateCall{Ctx: ctx, Summary: s})
	return p.EscalateErr
}

// CallCount returns the number of Escalate invocations. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EscalateCalls)
}

// LastSummary returns the summary of the most recent call, or the zero value
// when Escalate was never invoked.
func (p *Provider) LastSummary() handoff.Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.EscalateCalls) == 0 {
		return handoff.Summary{}
	}
	return p.EscalateCalls[len(p.EscalateCalls)-1].Summary
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EscalateCalls = nil
}

// Ensure Provider implements handoff.Provider at compile time.
var _ handoff.Provider = (*Provider)(nil)
