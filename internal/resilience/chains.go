package resilience

import (
	"context"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/asr"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/nlu"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/tts"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

// The typed chains below wrap [FallbackGroup] once per adapter contract so
// callers keep their usual Provider interfaces and never see the group.

var (
	_ asr.Provider = (*ASRFallback)(nil)
	_ nlu.Provider = (*NLUFallback)(nil)
	_ tts.Provider = (*TTSFallback)(nil)
)

// ASRFallback fails over across recognition backends, each behind its own
// circuit breaker.
type ASRFallback struct {
	group *FallbackGroup[asr.Provider]
}

// NewASRFallback builds a chain with primary as the preferred recognizer.
func NewASRFallback(primary asr.Provider, primaryName string, cfg FallbackConfig) *ASRFallback {
	return &ASRFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a recognizer to try after the ones already registered.
func (f *ASRFallback) AddFallback(name string, provider asr.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs the utterance through the first healthy recognizer,
// walking the chain in registration order on failure.
func (f *ASRFallback) Transcribe(ctx context.Context, req asr.Request) (asr.Result, error) {
	return ExecuteWithResult(f.group, func(p asr.Provider) (asr.Result, error) {
		return p.Transcribe(ctx, req)
	})
}

// NLUFallback fails over across understanding backends. The usual wiring
// puts a hosted model first and the offline keyword matcher last, so
// classification degrades gracefully rather than failing the turn.
type NLUFallback struct {
	group *FallbackGroup[nlu.Provider]
}

// NewNLUFallback builds a chain with primary as the preferred understander.
func NewNLUFallback(primary nlu.Provider, primaryName string, cfg FallbackConfig) *NLUFallback {
	return &NLUFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends an understander to try after the ones already
// registered.
func (f *NLUFallback) AddFallback(name string, provider nlu.Provider) {
	f.group.AddFallback(name, provider)
}

// Analyze classifies the utterance through the first healthy understander,
// walking the chain in registration order on failure.
func (f *NLUFallback) Analyze(ctx context.Context, text string, lang dialog.Language) (dialog.NLUResult, error) {
	return ExecuteWithResult(f.group, func(p nlu.Provider) (dialog.NLUResult, error) {
		return p.Analyze(ctx, text, lang)
	})
}

// TTSFallback fails over across synthesis backends, each behind its own
// circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// NewTTSFallback builds a chain with primary as the preferred synthesizer.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a synthesizer to try after the ones already registered.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders the reply through the first healthy synthesizer,
// walking the chain in registration order on failure.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (tts.Result, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (tts.Result, error) {
		return p.Synthesize(ctx, req)
	})
}
