package turnloop_test

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/HeckSmart/multilingual-voiceagent/internal/orchestrator"
	"github.com/HeckSmart/multilingual-voiceagent/internal/turnloop"
	asrmock "github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/asr/mock"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/fleet/static"
	handoffmock "github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/handoff/mock"
	nlumock "github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/nlu/mock"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/tts"
	ttsmock "github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/tts/mock"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/session"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/session/memory"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/vad"
)

const sampleRate = 16000

// voiceDeps bundles the doubles behind a test pipeline.
type voiceDeps struct {
	store  session.Store
	nlu    *nlumock.Provider
	agents *handoffmock.Provider
	rec    *asrmock.Provider
	synth  *ttsmock.Provider
}

// newPipeline builds a voice pipeline over an in-memory store, the static
// fleet fixtures, and mock speech adapters.
func newPipeline(t *testing.T, opts ...turnloop.PipelineOption) (*turnloop.Pipeline, *voiceDeps) {
	t.Helper()

	d := &voiceDeps{
		store:  memory.New(memory.WithRetention(0)),
		nlu:    &nlumock.Provider{},
		agents: &handoffmock.Provider{},
		rec:    &asrmock.Provider{},
		synth:  &ttsmock.Provider{},
	}
	t.Cleanup(func() { _ = d.store.Close() })

	orc, err := orchestrator.New(d.store, d.nlu, static.New(), d.agents)
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	p, err := turnloop.NewPipeline(orc, d.rec, d.synth, opts...)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p, d
}

// speechClip synthesizes ms milliseconds of a 440 Hz tone, which passes all
// three voice-activity gates at 16 kHz.
func speechClip(ms int) []byte {
	n := sampleRate * ms / 1000
	buf := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
	}
	return buf
}

// silentClip returns ms milliseconds of digital silence.
func silentClip(ms int) []byte {
	return make([]byte, 2*sampleRate*ms/1000)
}

// sessionState loads the committed conversation state.
func sessionState(t *testing.T, store session.Store, id string) *dialog.State {
	t.Helper()
	st, err := store.GetOrCreate(context.Background(), id)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	return st
}

// prompt resolves the deterministic line the dialogue would pick.
func prompt(lang dialog.Language, kind orchestrator.PromptKind, id string, counter int) string {
	return orchestrator.DefaultPrompts().Pick(lang, kind, id, counter)
}

func TestNewPipeline_Validation(t *testing.T) {
	t.Parallel()

	store := memory.New(memory.WithRetention(0))
	t.Cleanup(func() { _ = store.Close() })
	orc, err := orchestrator.New(store, &nlumock.Provider{}, static.New(), &handoffmock.Provider{})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}

	if _, err := turnloop.NewPipeline(nil, &asrmock.Provider{}, &ttsmock.Provider{}); err == nil {
		t.Error("nil orchestrator accepted")
	}
	if _, err := turnloop.NewPipeline(orc, nil, &ttsmock.Provider{}); err == nil {
		t.Error("nil recognizer accepted")
	}
	if _, err := turnloop.NewPipeline(orc, &asrmock.Provider{}, nil); err == nil {
		t.Error("nil synthesizer accepted")
	}
}

func TestProcessClip_Speech(t *testing.T) {
	t.Parallel()

	const id = "conv-voice"
	p, d := newPipeline(t)
	d.rec.Result.Text = "find station in noida"
	d.nlu.Result = dialog.NLUResult{
		Intent:     dialog.IntentFindNearestStation,
		Confidence: 0.9,
		Sentiment:  dialog.SentimentNeutral,
		Entities:   map[string]string{"location": "Noida"},
	}
	d.synth.Result = tts.Result{Audio: []byte{1, 2, 3}, SampleRate: 22050, MIMEType: "audio/wav"}

	res, err := p.ProcessClip(context.Background(), id, speechClip(500), sampleRate, dialog.LanguageEN)
	if err != nil {
		t.Fatalf("ProcessClip: %v", err)
	}
	if res.Transcript != "find station in noida" {
		t.Errorf("transcript = %q", res.Transcript)
	}
	if want := "The nearest station is Station Noida at Main Road, Noida."; res.Turn.Reply != want {
		t.Errorf("reply = %q, want %q", res.Turn.Reply, want)
	}
	if !res.Turn.ShouldEnd {
		t.Error("should_end not set")
	}
	if string(res.Audio) != string([]byte{1, 2, 3}) || res.SampleRate != 22050 || res.MIMEType != "audio/wav" {
		t.Errorf("audio = %v @%d %q, want the synthesized clip", res.Audio, res.SampleRate, res.MIMEType)
	}

	if got := d.rec.CallCount(); got != 1 {
		t.Errorf("transcribe calls = %d, want 1", got)
	}
	if got := d.synth.CallCount(); got != 1 {
		t.Fatalf("synthesize calls = %d, want 1", got)
	}
	req := d.synth.SynthesizeCalls[0].Req
	if req.Text != res.Turn.Reply || req.Language != dialog.LanguageEN {
		t.Errorf("synth request = %+v", req)
	}
}

func TestProcessClip_SilenceSkipsRecognizer(t *testing.T) {
	t.Parallel()

	const id = "conv-silent"
	p, d := newPipeline(t)

	res, err := p.ProcessClip(context.Background(), id, silentClip(600), sampleRate, dialog.LanguageEN)
	if err != nil {
		t.Fatalf("ProcessClip: %v", err)
	}
	if !res.Turn.ProactivePrompt {
		t.Error("proactive_prompt not set on a silent turn")
	}
	if want := prompt(dialog.LanguageEN, orchestrator.PromptProactive, id, 1); res.Turn.Reply != want {
		t.Errorf("reply = %q, want proactive %q", res.Turn.Reply, want)
	}
	if res.Transcript != "" {
		t.Errorf("transcript = %q, want empty", res.Transcript)
	}
	if got := d.rec.CallCount(); got != 0 {
		t.Errorf("transcribe calls = %d; silence must never reach the recognizer", got)
	}
	if got := d.nlu.CallCount(); got != 0 {
		t.Errorf("analyze calls = %d, want 0", got)
	}
}

func TestSetTuning_VADAppliesToSubsequentClips(t *testing.T) {
	t.Parallel()

	const id = "conv-retune"
	p, d := newPipeline(t)
	ctx := context.Background()

	if _, err := p.ProcessClip(ctx, id, speechClip(600), sampleRate, dialog.LanguageEN); err != nil {
		t.Fatalf("ProcessClip: %v", err)
	}
	if got := d.rec.CallCount(); got != 1 {
		t.Fatalf("transcribe calls = %d, want 1", got)
	}

	// Raise the RMS floor above anything the test tone reaches; the same
	// clip now classifies as silence.
	p.SetTuning(vad.Config{SilenceThresholdRMS: 0.9}, turnloop.Timeouts{})

	res, err := p.ProcessClip(ctx, id, speechClip(600), sampleRate, dialog.LanguageEN)
	if err != nil {
		t.Fatalf("ProcessClip after SetTuning: %v", err)
	}
	if !res.Turn.ProactivePrompt {
		t.Error("retuned clip did not take the no-speech branch")
	}
	if got := d.rec.CallCount(); got != 1 {
		t.Errorf("transcribe calls = %d after retune, want 1", got)
	}
}

func TestProcessClip_ShortTranscriptIsSilence(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"one rune", "a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			const id = "conv-short"
			p, d := newPipeline(t)
			d.rec.Result.Text = tc.text

			res, err := p.ProcessClip(context.Background(), id, speechClip(500), sampleRate, dialog.LanguageEN)
			if err != nil {
				t.Fatalf("ProcessClip: %v", err)
			}
			if !res.Turn.ProactivePrompt {
				t.Error("proactive_prompt not set")
			}
			if got := d.rec.CallCount(); got != 1 {
				t.Errorf("transcribe calls = %d, want 1", got)
			}
			if got := d.nlu.CallCount(); got != 0 {
				t.Errorf("analyze calls = %d, want 0", got)
			}
		})
	}
}

func TestProcessClip_RecognizerFailureApologizes(t *testing.T) {
	t.Parallel()

	const id = "conv-asr-down"
	p, d := newPipeline(t)
	d.rec.TranscribeErr = errors.New("engine offline")

	res, err := p.ProcessClip(context.Background(), id, speechClip(500), sampleRate, dialog.LanguageEN)
	if err != nil {
		t.Fatalf("recognizer failure must not fail the turn: %v", err)
	}
	if want := prompt(dialog.LanguageEN, orchestrator.PromptApology, id, 1); res.Turn.Reply != want {
		t.Errorf("reply = %q, want apology %q", res.Turn.Reply, want)
	}
	if res.Transcript != "" {
		t.Errorf("transcript = %q, want empty", res.Transcript)
	}

	st := sessionState(t, d.store, id)
	if st.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", st.RetryCount)
	}
	if st.Status != dialog.StatusActive {
		t.Errorf("status = %q, want active", st.Status)
	}
}

func TestProcessClip_SynthesisFailureDegradesToText(t *testing.T) {
	t.Parallel()

	const id = "conv-tts-down"
	p, d := newPipeline(t)
	d.rec.Result.Text = "check my plan"
	d.nlu.Result = dialog.NLUResult{Intent: dialog.IntentCheckSubscription, Confidence: 0.9, Sentiment: dialog.SentimentNeutral}
	d.synth.SynthesizeErr = errors.New("voice service 502")

	res, err := p.ProcessClip(context.Background(), id, speechClip(500), sampleRate, dialog.LanguageEN)
	if err != nil {
		t.Fatalf("synthesis failure must not fail the turn: %v", err)
	}
	if want := "Your subscription is active until 31 December 2026."; res.Turn.Reply != want {
		t.Errorf("reply = %q, want %q", res.Turn.Reply, want)
	}
	if len(res.Audio) != 0 {
		t.Errorf("audio = %d bytes, want none", len(res.Audio))
	}
}

func TestProcessClip_InternalFailureSpeaksAcknowledgement(t *testing.T) {
	t.Parallel()

	const id = "conv-voice-internal"
	p, d := newPipeline(t)
	d.rec.Result.Text = "anything at all"
	d.nlu.Result = dialog.NLUResult{Intent: dialog.IntentUnknown, Confidence: 0.9, Sentiment: dialog.SentimentNeutral}

	err := d.store.WithLock(context.Background(), id, func(st *dialog.State) error {
		st.CurrentIntent = dialog.Intent("Bogus")
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := p.ProcessClip(context.Background(), id, speechClip(500), sampleRate, dialog.LanguageEN)
	if err != nil {
		t.Fatalf("internal failure must surface as a spoken acknowledgement, got %v", err)
	}
	if !res.Turn.NeedsEscalation {
		t.Error("needs_escalation not set")
	}
	if want := prompt(dialog.LanguageEN, orchestrator.PromptEscalationAck, id, 0); res.Turn.Reply != want {
		t.Errorf("reply = %q, want acknowledgement %q", res.Turn.Reply, want)
	}
	if got := d.agents.CallCount(); got != 1 {
		t.Errorf("handoff calls = %d, want 1", got)
	}
}

func TestProcessClip_TerminalSession(t *testing.T) {
	t.Parallel()

	const id = "conv-voice-done"
	p, _ := newPipeline(t)
	ctx := context.Background()

	if err := p.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := p.ProcessClip(ctx, id, speechClip(500), sampleRate, dialog.LanguageEN); !errors.Is(err, dialog.ErrSessionTerminal) {
		t.Errorf("err = %v, want ErrSessionTerminal", err)
	}
}

func TestProcessClip_InvalidInput(t *testing.T) {
	t.Parallel()

	p, _ := newPipeline(t)
	if _, err := p.ProcessClip(context.Background(), "", speechClip(500), sampleRate, ""); !errors.Is(err, dialog.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestGreet_SpeaksGreeting(t *testing.T) {
	t.Parallel()

	const id = "conv-voice-greet"
	p, d := newPipeline(t)
	d.synth.Result = tts.Result{Audio: []byte{9}, SampleRate: 8000}

	res, err := p.Greet(context.Background(), id, dialog.LanguageHI)
	if err != nil {
		t.Fatalf("Greet: %v", err)
	}
	if want := prompt(dialog.LanguageHI, orchestrator.PromptGreeting, id, 0); res.Turn.Reply != want {
		t.Errorf("reply = %q, want %q", res.Turn.Reply, want)
	}
	if len(res.Audio) == 0 {
		t.Error("greeting not synthesized")
	}
}
