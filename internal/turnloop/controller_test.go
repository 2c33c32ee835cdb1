package turnloop_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HeckSmart/multilingual-voiceagent/internal/orchestrator"
	"github.com/HeckSmart/multilingual-voiceagent/internal/turnloop"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

// startController spins up a call loop and ties its shutdown to the test.
func startController(t *testing.T, p *turnloop.Pipeline, id string, cfg turnloop.Config) *turnloop.Controller {
	t.Helper()
	c, err := turnloop.StartController(context.Background(), p, id, cfg)
	if err != nil {
		t.Fatalf("StartController: %v", err)
	}
	t.Cleanup(c.Stop)
	return c
}

// waitUtterance reads the next completed turn or fails the test.
func waitUtterance(t *testing.T, c *turnloop.Controller) turnloop.VoiceResult {
	t.Helper()
	select {
	case res, ok := <-c.Utterances():
		if !ok {
			t.Fatal("utterance channel closed early")
		}
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an utterance")
	}
	return turnloop.VoiceResult{}
}

// waitState polls until the loop reaches the wanted phase.
func waitState(t *testing.T, c *turnloop.Controller, want turnloop.State) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		if c.State() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("state = %q, want %q", c.State(), want)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

// waitDone blocks until the loop has fully ended.
func waitDone(t *testing.T, c *turnloop.Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the loop to end")
	}
}

// feedChunks ingests count copies of chunk, failing on a closed controller.
func feedChunks(t *testing.T, c *turnloop.Controller, chunk []byte, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		if err := c.Ingest(chunk); err != nil {
			t.Fatalf("Ingest #%d: %v", i, err)
		}
	}
}

func TestStartController_Validation(t *testing.T) {
	t.Parallel()

	p, _ := newPipeline(t)
	if _, err := turnloop.StartController(context.Background(), nil, "conv-call", turnloop.Config{}); err == nil {
		t.Error("nil pipeline accepted")
	}
	if _, err := turnloop.StartController(context.Background(), p, "", turnloop.Config{}); err == nil {
		t.Error("empty conversation id accepted")
	}
}

func TestController_GreetsThenListens(t *testing.T) {
	t.Parallel()

	const id = "conv-call-greet"
	p, _ := newPipeline(t)
	c := startController(t, p, id, turnloop.Config{Language: dialog.LanguageEN})

	res := waitUtterance(t, c)
	if want := prompt(dialog.LanguageEN, orchestrator.PromptGreeting, id, 0); res.Turn.Reply != want {
		t.Errorf("greeting = %q, want %q", res.Turn.Reply, want)
	}
	if res.Transcript != "" {
		t.Errorf("greeting transcript = %q, want empty", res.Transcript)
	}
	waitState(t, c, turnloop.StateListening)
}

func TestController_EndOfUtteranceTurn(t *testing.T) {
	t.Parallel()

	const id = "conv-call-turn"
	p, d := newPipeline(t)
	d.rec.Result.Text = "uh let me think"
	c := startController(t, p, id, turnloop.Config{Language: dialog.LanguageEN})

	waitUtterance(t, c) // greeting
	waitState(t, c, turnloop.StateListening)

	speech := speechClip(500)
	for off := 0; off < len(speech); off += 3200 {
		if err := c.Ingest(speech[off : off+3200]); err != nil {
			t.Fatalf("Ingest speech: %v", err)
		}
	}
	feedChunks(t, c, silentClip(100), 16)

	res := waitUtterance(t, c)
	if res.Transcript != "uh let me think" {
		t.Errorf("transcript = %q", res.Transcript)
	}
	if want := prompt(dialog.LanguageEN, orchestrator.PromptClarification, id, 1); res.Turn.Reply != want {
		t.Errorf("reply = %q, want clarification %q", res.Turn.Reply, want)
	}

	// The recognizer gets the spoken span with the trailing silence trimmed.
	if got := d.rec.CallCount(); got != 1 {
		t.Fatalf("transcribe calls = %d, want 1", got)
	}
	if got, want := len(d.rec.TranscribeCalls[0].Req.Audio), len(speech); got != want {
		t.Errorf("submitted audio = %d bytes, want %d", got, want)
	}

	waitState(t, c, turnloop.StateListening)
}

func TestController_SilenceWindowPrompts(t *testing.T) {
	t.Parallel()

	const id = "conv-call-silence"
	p, d := newPipeline(t)
	c := startController(t, p, id, turnloop.Config{Language: dialog.LanguageEN})

	waitUtterance(t, c) // greeting
	waitState(t, c, turnloop.StateListening)

	feedChunks(t, c, silentClip(100), 16)

	res := waitUtterance(t, c)
	if !res.Turn.ProactivePrompt {
		t.Error("proactive_prompt not set")
	}
	if want := prompt(dialog.LanguageEN, orchestrator.PromptProactive, id, 1); res.Turn.Reply != want {
		t.Errorf("reply = %q, want proactive %q", res.Turn.Reply, want)
	}
	if got := d.rec.CallCount(); got != 0 {
		t.Errorf("transcribe calls = %d; silent windows must not reach the recognizer", got)
	}
}

func TestController_RepeatedSilenceEndsCall(t *testing.T) {
	t.Parallel()

	const id = "conv-call-abandoned"
	p, d := newPipeline(t)
	c := startController(t, p, id, turnloop.Config{Language: dialog.LanguageEN})

	waitUtterance(t, c) // greeting
	waitState(t, c, turnloop.StateListening)

	for round := 1; round <= 3; round++ {
		feedChunks(t, c, silentClip(100), 16)
		res := waitUtterance(t, c)
		if !res.Turn.ProactivePrompt || res.Turn.NeedsEscalation {
			t.Fatalf("round %d: result = %+v, want a plain proactive prompt", round, res.Turn)
		}
		if want := prompt(dialog.LanguageEN, orchestrator.PromptProactive, id, round); res.Turn.Reply != want {
			t.Errorf("round %d reply = %q, want %q", round, res.Turn.Reply, want)
		}
		waitState(t, c, turnloop.StateListening)
	}

	feedChunks(t, c, silentClip(100), 16)
	res := waitUtterance(t, c)
	if want := prompt(dialog.LanguageEN, orchestrator.PromptNoResponseEnd, id, 0); res.Turn.Reply != want {
		t.Errorf("final reply = %q, want %q", res.Turn.Reply, want)
	}
	if !res.Turn.NeedsEscalation || !res.Turn.ShouldEnd {
		t.Errorf("final turn = %+v, want escalation and end", res.Turn)
	}

	waitDone(t, c)
	if got := c.State(); got != turnloop.StateTerminal {
		t.Errorf("state = %q, want terminal", got)
	}
	if got := d.agents.CallCount(); got != 1 {
		t.Errorf("handoff calls = %d, want 1", got)
	}

	st := sessionState(t, d.store, id)
	if st.Status != dialog.StatusEscalated || st.EndReason != orchestrator.ReasonNoResponse {
		t.Errorf("session = %q/%q, want escalated/%q", st.Status, st.EndReason, orchestrator.ReasonNoResponse)
	}
}

func TestController_DropPolicyOutsideListening(t *testing.T) {
	t.Parallel()

	const id = "conv-call-drop"
	p, _ := newPipeline(t)
	c := startController(t, p, id, turnloop.Config{Language: dialog.LanguageEN})

	// The greeting has not been consumed, so the loop cannot be LISTENING.
	if err := c.Ingest(nil); err != nil {
		t.Fatalf("Ingest(nil): %v", err)
	}
	feedChunks(t, c, silentClip(100), 3)
	if got := c.Dropped(); got != 3 {
		t.Fatalf("dropped = %d, want 3", got)
	}

	waitUtterance(t, c) // greeting
	waitState(t, c, turnloop.StateListening)

	feedChunks(t, c, silentClip(100), 1)
	if got := c.Dropped(); got != 3 {
		t.Errorf("dropped = %d after a LISTENING chunk, want 3", got)
	}
}

func TestController_QueuePolicyBuffers(t *testing.T) {
	t.Parallel()

	const id = "conv-call-queue"
	p, _ := newPipeline(t)
	c := startController(t, p, id, turnloop.Config{
		Language:     dialog.LanguageEN,
		Backpressure: turnloop.BackpressureQueue,
	})

	// Chunks sent before the greeting is consumed wait in the queue.
	feedChunks(t, c, silentClip(100), 4)
	if got := c.Dropped(); got != 0 {
		t.Fatalf("dropped = %d, want 0 under the queue policy", got)
	}

	waitUtterance(t, c) // greeting
	feedChunks(t, c, silentClip(100), 12)

	res := waitUtterance(t, c)
	if !res.Turn.ProactivePrompt {
		t.Errorf("result = %+v, want a proactive prompt from the buffered silence", res.Turn)
	}
	if got := c.Dropped(); got != 0 {
		t.Errorf("dropped = %d, want 0", got)
	}
}

func TestController_MaxUtteranceForcesTurn(t *testing.T) {
	t.Parallel()

	const id = "conv-call-rambler"
	p, d := newPipeline(t)
	d.rec.Result.Text = "keeps talking and talking"
	c := startController(t, p, id, turnloop.Config{
		Language:     dialog.LanguageEN,
		MaxUtterance: 400 * time.Millisecond,
	})

	waitUtterance(t, c) // greeting
	waitState(t, c, turnloop.StateListening)

	speech := speechClip(600)
	for off := 0; off < len(speech); off += 3200 {
		_ = c.Ingest(speech[off : off+3200])
	}

	res := waitUtterance(t, c)
	if res.Transcript != "keeps talking and talking" {
		t.Errorf("transcript = %q", res.Transcript)
	}
	if got := d.rec.CallCount(); got != 1 {
		t.Fatalf("transcribe calls = %d, want 1", got)
	}
	// The cap flushes at exactly 400 ms of buffered speech.
	if got, want := len(d.rec.TranscribeCalls[0].Req.Audio), 4*3200; got != want {
		t.Errorf("submitted audio = %d bytes, want %d", got, want)
	}
}

func TestController_TerminalTurnEndsLoop(t *testing.T) {
	t.Parallel()

	const id = "conv-call-complete"
	p, d := newPipeline(t)
	d.rec.Result.Text = "check my plan"
	d.nlu.Result = dialog.NLUResult{Intent: dialog.IntentCheckSubscription, Confidence: 0.9, Sentiment: dialog.SentimentNeutral}
	c := startController(t, p, id, turnloop.Config{Language: dialog.LanguageEN})

	waitUtterance(t, c) // greeting
	waitState(t, c, turnloop.StateListening)

	speech := speechClip(500)
	for off := 0; off < len(speech); off += 3200 {
		if err := c.Ingest(speech[off : off+3200]); err != nil {
			t.Fatalf("Ingest speech: %v", err)
		}
	}
	feedChunks(t, c, silentClip(100), 16)

	res := waitUtterance(t, c)
	if want := "Your subscription is active until 31 December 2026."; res.Turn.Reply != want {
		t.Errorf("reply = %q, want %q", res.Turn.Reply, want)
	}
	if !res.Turn.ShouldEnd {
		t.Fatal("should_end not set")
	}

	waitDone(t, c)
	if _, ok := <-c.Utterances(); ok {
		t.Error("utterance channel still open after a terminal turn")
	}
	if got := c.State(); got != turnloop.StateTerminal {
		t.Errorf("state = %q, want terminal", got)
	}

	// The dialogue ended on its own; the session keeps its COMPLETED status.
	st := sessionState(t, d.store, id)
	if st.Status != dialog.StatusCompleted {
		t.Errorf("status = %q, want completed", st.Status)
	}
	if st.EndReason == orchestrator.ReasonCancelled {
		t.Error("a dialogue-ended call must not be marked cancelled")
	}
}

func TestController_StopCancelsConversation(t *testing.T) {
	t.Parallel()

	const id = "conv-call-hangup"
	p, d := newPipeline(t)
	c := startController(t, p, id, turnloop.Config{Language: dialog.LanguageEN})

	waitUtterance(t, c) // greeting
	waitState(t, c, turnloop.StateListening)

	c.Stop()
	waitDone(t, c)

	st := sessionState(t, d.store, id)
	if st.Status != dialog.StatusCompleted || st.EndReason != orchestrator.ReasonCancelled {
		t.Errorf("session = %q/%q, want completed/%q", st.Status, st.EndReason, orchestrator.ReasonCancelled)
	}
	if err := c.Ingest(silentClip(100)); !errors.Is(err, turnloop.ErrControllerClosed) {
		t.Errorf("Ingest after Stop = %v, want ErrControllerClosed", err)
	}
}

func TestController_ContextCancelEndsLoop(t *testing.T) {
	t.Parallel()

	const id = "conv-call-ctx"
	p, d := newPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	c, err := turnloop.StartController(ctx, p, id, turnloop.Config{Language: dialog.LanguageEN})
	if err != nil {
		t.Fatalf("StartController: %v", err)
	}
	t.Cleanup(c.Stop)

	waitUtterance(t, c) // greeting
	waitState(t, c, turnloop.StateListening)

	cancel()
	waitDone(t, c)

	// The transport died, so the conversation is cancelled for the caller.
	st := sessionState(t, d.store, id)
	if st.Status != dialog.StatusCompleted || st.EndReason != orchestrator.ReasonCancelled {
		t.Errorf("session = %q/%q, want completed/%q", st.Status, st.EndReason, orchestrator.ReasonCancelled)
	}
}
