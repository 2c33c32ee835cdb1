// Package mock provides a test double for the nlu.Provider interface.
//
// Use Provider to script understanding results turn by turn and to inspect
// the utterances the orchestrator submits.
//
// Example:
//
//	p := &mock.Provider{Queue: []dialog.NLUResult{
//	    {Intent: dialog.IntentFindNearestStation, Confidence: 0.9, Sentiment: dialog.SentimentNeutral},
//	    {Intent: dialog.IntentUnknown, Confidence: 0.4, Entities: map[string]string{"location": "Noida"}},
//	}}
package mock

import (
	"context"
	"sync"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/nlu"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

// AnalyzeCall records a single invocation of Provider.Analyze.
type AnalyzeCall struct {
	// Ctx is the context passed to Analyze.
	Ctx context.Context
	// Text is the utterance passed to Analyze.
	Text string
	// Language is the session language passed to Analyze.
	Language dialog.Language
}

// Provider is a mock implementation of nlu.Provider.
// Zero values cause Analyze to return a neutral Unknown result.
type Provider struct {
	mu sync.Mutex

	// Queue holds per-call results consumed in FIFO order. When empty,
	// Result is returned instead.
	Queue []dialog.NLUResult

	// Result is returned by Analyze when Queue is exhausted.
	Result dialog.NLUResult

	// AnalyzeErr, if non-nil, is returned by every Analyze call.
	AnalyzeErr error

	// AnalyzeCalls records every invocation in order.
	AnalyzeCalls []AnalyzeCall
}

// Analyze records the call and returns the next scripted result.
func (p *Provider) Analyze(ctx context.Context, text string, lang dialog.Language) (dialog.NLUResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.AnalyzeCalls = append(p.AnalyzeCalls, AnalyzeCall{Ctx: ctx, Text: text, Language: lang})

	if p.AnalyzeErr != nil {
		return dialog.NLUResult{}, p.AnalyzeErr
	}
	if len(p.Queue) > 0 {
		res := p.Queue[0]
		p.Queue = p.Queue[1:]
		return res, nil
	}
	res := p.Result
	if res.Intent == "" {
		res.Intent = dialog.IntentUnknown
	}
	if res.Sentiment == "" {
		res.Sentiment = dialog.SentimentNeutral
	}
	return res, nil
}

// CallCount returns the number of Analyze calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.AnalyzeCalls)
}

// Reset clears all recorded calls and the script queue. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AnalyzeCalls = nil
	p.Queue = nil
}

// Ensure Provider implements nlu.Provider at compile time.
var _ nlu.Provider = (*Provider)(nil)
