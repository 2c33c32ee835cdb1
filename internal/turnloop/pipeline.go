// Package turnloop drives the voice side of a conversation.
//
// A [Pipeline] owns one complete voice turn: voice activity detection on the
// buffered clip, the no-speech branch, recognition, the dialogue turn, and
// reply synthesis. A [Controller] wraps a Pipeline in a per-call state
// machine that segments a live audio stream into such turns, and a [Manager]
// tracks the controllers of all live calls.
//
// The dialogue brain stays in the orchestrator package; everything here is
// about turning audio into exactly one HandleText or HandleNoSpeech call and
// the spoken reply back.
package turnloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/HeckSmart/multilingual-voiceagent/internal/observe"
	"github.com/HeckSmart/multilingual-voiceagent/internal/orchestrator"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/asr"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/tts"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/vad"
)

const (
	// DefaultSampleRate is assumed for clips that carry no rate of their own.
	DefaultSampleRate = 16000

	// DefaultRecognizeTimeout bounds one transcription call.
	DefaultRecognizeTimeout = 10 * time.Second

	// DefaultSynthesizeTimeout bounds one synthesis call.
	DefaultSynthesizeTimeout = 10 * time.Second

	// minTranscriptRunes is the shortest recognizer output treated as an
	// utterance; anything shorter is handled as silence.
	minTranscriptRunes = 2
)

// Timeouts bounds the speech adapter calls. The zero value means "use
// defaults".
type Timeouts struct {
	// Recognize bounds asr.Provider.Transcribe.
	Recognize time.Duration

	// Synthesize bounds tts.Provider.Synthesize.
	Synthesize time.Duration
}

// tuning bundles the VAD thresholds and speech deadlines into one
// atomically-swapped value, mirroring the orchestrator's policy snapshot.
type tuning struct {
	vad      vad.Config
	timeouts Timeouts
}

func defaultTuning() tuning {
	return tuning{
		vad: vad.DefaultConfig(),
		timeouts: Timeouts{
			Recognize:  DefaultRecognizeTimeout,
			Synthesize: DefaultSynthesizeTimeout,
		},
	}
}

// VoiceResult is the outcome of one voice turn: what was heard, what the
// dialogue decided, and the synthesized reply. Audio is nil when synthesis
// failed or was skipped; callers then fall back to the reply text.
type VoiceResult struct {
	// Transcript is the recognized utterance, empty for silent turns.
	Transcript string `json:"transcript,omitempty"`

	// Turn is the dialogue outcome, including the reply text and the
	// lifecycle flags.
	Turn dialog.TurnResult `json:"turn"`

	// Audio is the synthesized reply clip.
	Audio []byte `json:"audio,omitempty"`

	// SampleRate is the clip's sample rate in Hz.
	SampleRate int `json:"sample_rate,omitempty"`

	// MIMEType names the clip encoding; empty means raw 16-bit PCM.
	MIMEType string `json:"mime_type,omitempty"`
}

// Pipeline turns one audio clip into one dialogue turn plus a spoken reply.
// Safe for concurrent use; per-conversation ordering comes from the session
// store lock inside the orchestrator.
type Pipeline struct {
	orc         *orchestrator.Orchestrator
	recognizer  asr.Provider
	synthesizer tts.Provider
	tuning      atomic.Pointer[tuning]
	failures    orchestrator.FailureObserver
	log         *slog.Logger
	metrics     *observe.Metrics
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithVAD replaces the stock voice-activity thresholds.
func WithVAD(cfg vad.Config) PipelineOption {
	return func(p *Pipeline) {
		t := *p.tuning.Load()
		t.vad = cfg
		p.tuning.Store(&t)
	}
}

// WithTimeouts overrides the speech adapter deadlines. Zero fields keep
// their defaults.
func WithTimeouts(t Timeouts) PipelineOption {
	return func(p *Pipeline) {
		tn := *p.tuning.Load()
		mergeTimeouts(&tn.timeouts, t)
		p.tuning.Store(&tn)
	}
}

// WithFailureObserver wires the degraded-adapter bookkeeping for the speech
// adapters.
func WithFailureObserver(f orchestrator.FailureObserver) PipelineOption {
	return func(p *Pipeline) { p.failures = f }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(log *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to observe.DefaultMetrics.
func WithMetrics(m *observe.Metrics) PipelineOption {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// NewPipeline builds a voice pipeline over the dialogue orchestrator and the
// speech adapters.
func NewPipeline(orc *orchestrator.Orchestrator, recognizer asr.Provider, synthesizer tts.Provider, opts ...PipelineOption) (*Pipeline, error) {
	if orc == nil {
		return nil, errors.New("turnloop: orchestrator must not be nil")
	}
	if recognizer == nil {
		return nil, errors.New("turnloop: recognizer must not be nil")
	}
	if synthesizer == nil {
		return nil, errors.New("turnloop: synthesizer must not be nil")
	}

	p := &Pipeline{
		orc:         orc,
		recognizer:  recognizer,
		synthesizer: synthesizer,
		log:         slog.Default(),
		metrics:     observe.DefaultMetrics(),
	}
	t := defaultTuning()
	p.tuning.Store(&t)
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// SetTuning atomically replaces the VAD thresholds and speech deadlines. A
// zero vad.Config falls back to [vad.DefaultConfig], zero deadlines to the
// package defaults. In-flight turns finish under the tuning they loaded.
// Config hot-reload calls this.
func (p *Pipeline) SetTuning(v vad.Config, t Timeouts) {
	tn := defaultTuning()
	if v != (vad.Config{}) {
		tn.vad = v
	}
	mergeTimeouts(&tn.timeouts, t)
	p.tuning.Store(&tn)
}

// tun returns the current tuning snapshot.
func (p *Pipeline) tun() *tuning { return p.tuning.Load() }

// mergeTimeouts overlays the set fields of src on dst.
func mergeTimeouts(dst *Timeouts, src Timeouts) {
	if src.Recognize > 0 {
		dst.Recognize = src.Recognize
	}
	if src.Synthesize > 0 {
		dst.Synthesize = src.Synthesize
	}
}

// ProcessClip runs one voice turn over a buffered utterance.
//
// The clip is mono little-endian 16-bit PCM; a non-positive sampleRate is
// treated as [DefaultSampleRate]. Silence-classified clips never reach the
// recognizer: they take the no-speech branch, as do transcripts shorter than
// two runes. Recognizer failures degrade to a spoken apology and synthesis
// failures to a text-only result, so the returned error is limited to
// invalid input, terminal sessions, cancellation, and store failures.
func (p *Pipeline) ProcessClip(ctx context.Context, conversationID string, clip []byte, sampleRate int, lang dialog.Language) (VoiceResult, error) {
	if conversationID == "" {
		return VoiceResult{}, fmt.Errorf("%w: conversation_id is required", dialog.ErrInvalidInput)
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	start := time.Now()
	outcome := "ok"
	defer func() {
		p.metrics.RecordTurn(ctx, "voice", outcome, time.Since(start).Seconds())
	}()

	decision := vad.AnalyzeBytes(clip, sampleRate, p.tun().vad)
	p.metrics.RecordVADDecision(ctx, decision.Reason)

	if !decision.HasSpeech {
		res, err := p.silentTurn(ctx, conversationID, lang)
		if err != nil {
			outcome = "error"
			return VoiceResult{}, err
		}
		outcome = "no_speech"
		return res, nil
	}

	text, err := p.transcribe(ctx, clip, sampleRate, lang)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			outcome = "error"
			return VoiceResult{}, cerr
		}
		// Recognition is down; apologize and keep the call alive.
		turn, aerr := p.orc.Apologize(ctx, conversationID, lang)
		if aerr != nil {
			outcome = "error"
			return VoiceResult{}, aerr
		}
		res := VoiceResult{Turn: turn}
		p.speak(ctx, &res, lang)
		return res, nil
	}

	if utf8.RuneCountInString(text) < minTranscriptRunes {
		res, err := p.silentTurn(ctx, conversationID, lang)
		if err != nil {
			outcome = "error"
			return VoiceResult{}, err
		}
		outcome = "no_speech"
		return res, nil
	}

	turn, err := p.orc.HandleText(ctx, conversationID, text, lang)
	if err != nil {
		if !errors.Is(err, dialog.ErrInternal) {
			outcome = "error"
			return VoiceResult{}, err
		}
		// The orchestrator already escalated and handed back the spoken
		// acknowledgement; the caller gets that instead of a dead line.
		p.log.ErrorContext(ctx, "voice turn hit internal failure",
			slog.String("conversation_id", conversationID),
			slog.String("error", err.Error()),
		)
	}
	if turn.NeedsEscalation {
		outcome = "escalated"
	}

	res := VoiceResult{Transcript: text, Turn: turn}
	p.speak(ctx, &res, lang)
	return res, nil
}

// Greet produces the spoken session opening.
func (p *Pipeline) Greet(ctx context.Context, conversationID string, lang dialog.Language) (VoiceResult, error) {
	turn, err := p.orc.Greet(ctx, conversationID, lang)
	if err != nil {
		return VoiceResult{}, err
	}
	res := VoiceResult{Turn: turn}
	p.speak(ctx, &res, lang)
	return res, nil
}

// Cancel ends the conversation from the transport side.
func (p *Pipeline) Cancel(ctx context.Context, conversationID string) error {
	return p.orc.Cancel(ctx, conversationID)
}

// silentTurn runs the no-speech branch of the dialogue and voices the
// outcome.
func (p *Pipeline) silentTurn(ctx context.Context, conversationID string, lang dialog.Language) (VoiceResult, error) {
	turn, err := p.orc.HandleNoSpeech(ctx, conversationID, lang)
	if err != nil {
		return VoiceResult{}, err
	}
	res := VoiceResult{Turn: turn}
	p.speak(ctx, &res, lang)
	return res, nil
}

// transcribe runs the recognizer under its deadline and trims the result.
func (p *Pipeline) transcribe(ctx context.Context, clip []byte, sampleRate int, lang dialog.Language) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, p.tun().timeouts.Recognize)
	defer cancel()

	start := time.Now()
	res, err := p.recognizer.Transcribe(rctx, asr.Request{
		Audio:      clip,
		SampleRate: sampleRate,
		Language:   lang,
	})
	p.observeAdapter(ctx, "asr", "transcribe", start, err)
	if err != nil {
		p.log.WarnContext(ctx, "transcription failed",
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("turnloop: transcribe: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}

// speak synthesizes the reply into res. Synthesis failures leave the result
// text-only; the turn already committed and must reach the caller.
func (p *Pipeline) speak(ctx context.Context, res *VoiceResult, lang dialog.Language) {
	if res.Turn.Reply == "" {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, p.tun().timeouts.Synthesize)
	defer cancel()

	start := time.Now()
	out, err := p.synthesizer.Synthesize(sctx, tts.Request{
		Text:     res.Turn.Reply,
		Language: lang,
	})
	p.observeAdapter(ctx, "tts", "synthesize", start, err)
	if err != nil {
		p.log.WarnContext(ctx, "synthesis failed, reply degrades to text",
			slog.String("error", err.Error()),
		)
		return
	}
	res.Audio = out.Audio
	res.SampleRate = out.SampleRate
	res.MIMEType = out.MIMEType
}

// observeAdapter records duration, error class, and degraded-state signals
// for one speech adapter call.
func (p *Pipeline) observeAdapter(ctx context.Context, kind, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		class := "unavailable"
		if errors.Is(err, context.DeadlineExceeded) {
			class = "timeout"
		}
		p.metrics.RecordAdapterError(ctx, kind, op, class)
	}
	p.metrics.RecordAdapterCall(ctx, kind, op, outcome, time.Since(start).Seconds())
	if p.failures != nil {
		p.failures.Observe(kind, err)
	}
}
