package turnloop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/vad"
)

// State is the lifecycle phase of one call's audio loop.
type State string

const (
	StateIdle       State = "idle"
	StateGreeting   State = "greeting"
	StateListening  State = "listening"
	StateProcessing State = "processing"
	StateSpeaking   State = "speaking"
	StateTerminal   State = "terminal"
)

// Backpressure selects what happens to audio arriving while the loop is not
// listening.
type Backpressure string

const (
	// BackpressureDrop discards audio that arrives outside LISTENING and
	// counts every dropped chunk.
	BackpressureDrop Backpressure = "drop"

	// BackpressureQueue keeps audio in the bounded inbound queue until the
	// loop listens again; the queue overflowing still drops.
	BackpressureQueue Backpressure = "queue"
)

// Controller timing defaults.
const (
	// DefaultSilenceWindow is how long a fresh listening window may stay
	// speech-free before the proactive no-speech turn runs.
	DefaultSilenceWindow = 1500 * time.Millisecond

	// DefaultEndOfUtteranceSilence is the trailing non-speech span that
	// closes an utterance and sends it to recognition.
	DefaultEndOfUtteranceSilence = 1500 * time.Millisecond

	// DefaultMaxUtterance caps the rolling utterance buffer; hitting the cap
	// forces the turn even while speech continues.
	DefaultMaxUtterance = 10 * time.Second

	// DefaultTickInterval is how often the loop checks wall-clock silence
	// when no audio arrives at all.
	DefaultTickInterval = 250 * time.Millisecond

	// DefaultQueueLength bounds the inbound chunk queue.
	DefaultQueueLength = 64
)

// ErrControllerClosed is returned by Ingest after the loop has ended.
var ErrControllerClosed = errors.New("turnloop: controller is closed")

// Config tunes one call's audio loop. The zero value means "use defaults".
type Config struct {
	// Language is the call language, passed through to every dialogue turn.
	Language dialog.Language

	// SampleRate is the inbound PCM rate in Hz.
	SampleRate int

	// SilenceWindow triggers the proactive prompt.
	SilenceWindow time.Duration

	// EndOfUtteranceSilence triggers recognition of the buffered utterance.
	EndOfUtteranceSilence time.Duration

	// MaxUtterance caps the rolling buffer.
	MaxUtterance time.Duration

	// TickInterval paces the wall-clock silence checks.
	TickInterval time.Duration

	// Backpressure selects the policy for audio outside LISTENING.
	Backpressure Backpressure

	// QueueLength bounds the inbound chunk queue.
	QueueLength int
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.SilenceWindow <= 0 {
		c.SilenceWindow = DefaultSilenceWindow
	}
	if c.EndOfUtteranceSilence <= 0 {
		c.EndOfUtteranceSilence = DefaultEndOfUtteranceSilence
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = DefaultMaxUtterance
	}
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.Backpressure == "" {
		c.Backpressure = BackpressureDrop
	}
	if c.QueueLength <= 0 {
		c.QueueLength = DefaultQueueLength
	}
	return c
}

// Controller runs the audio loop for one live call.
//
// Audio enters through [Controller.Ingest]; completed turns leave through
// [Controller.Utterances]. All buffering and silence accounting is confined
// to the loop goroutine, so the controller needs no locking beyond the state
// snapshot. The loop segments the stream on trailing silence, hands each
// utterance to the pipeline, and ends the call when a turn says so or the
// transport goes away.
type Controller struct {
	pipe           *Pipeline
	conversationID string
	cfg            Config

	chunks     chan []byte
	utterances chan VoiceResult
	done       chan struct{} // closed by Stop
	finished   chan struct{} // closed when the loop exits
	once       sync.Once
	wg         sync.WaitGroup

	dropped atomic.Int64

	mu    sync.Mutex
	state State

	// Loop-confined stream accounting.
	buffer      []byte
	speechEnd   int // buffer length as of the last voiced chunk
	hadSpeech   bool
	silenceMs   int
	idleMs      int
	lastChunkAt time.Time
	windowStart time.Time
	ended       bool // a dialogue turn closed the session
}

// StartController begins the audio loop for one call. The greeting is
// spoken immediately; the caller must consume [Controller.Utterances] or the
// loop stalls by design. ctx ending has the same effect as Stop.
func StartController(ctx context.Context, pipe *Pipeline, conversationID string, cfg Config) (*Controller, error) {
	if pipe == nil {
		return nil, errors.New("turnloop: pipeline must not be nil")
	}
	if conversationID == "" {
		return nil, errors.New("turnloop: conversationID must not be empty")
	}

	cfg = cfg.withDefaults()
	c := &Controller{
		pipe:           pipe,
		conversationID: conversationID,
		cfg:            cfg,
		chunks:         make(chan []byte, cfg.QueueLength),
		utterances:     make(chan VoiceResult),
		done:           make(chan struct{}),
		finished:       make(chan struct{}),
		state:          StateIdle,
	}

	c.wg.Add(1)
	go c.run(ctx)

	return c, nil
}

// ConversationID returns the dialogue session this call drives.
func (c *Controller) ConversationID() string { return c.conversationID }

// Utterances emits one VoiceResult per completed turn, the greeting
// included. The channel is unbuffered so a slow transport holds the loop in
// SPEAKING, and it closes when the loop ends.
func (c *Controller) Utterances() <-chan VoiceResult { return c.utterances }

// Done is closed when the loop has fully ended.
func (c *Controller) Done() <-chan struct{} { return c.finished }

// State returns the loop's current phase.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dropped reports how many inbound chunks were discarded under backpressure.
func (c *Controller) Dropped() int64 { return c.dropped.Load() }

// Ingest queues one chunk of mono little-endian 16-bit PCM. It never
// blocks: under the drop policy audio outside LISTENING is discarded, and a
// full queue discards under either policy. The chunk is copied, so the
// caller may reuse its buffer.
func (c *Controller) Ingest(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	select {
	case <-c.done:
		return ErrControllerClosed
	case <-c.finished:
		return ErrControllerClosed
	default:
	}

	if c.cfg.Backpressure == BackpressureDrop && c.State() != StateListening {
		c.drop()
		return nil
	}

	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	select {
	case c.chunks <- buf:
		return nil
	case <-c.done:
		return ErrControllerClosed
	default:
		c.drop()
		return nil
	}
}

// Stop ends the loop and waits for it to finish. If no dialogue turn has
// already closed the session, the conversation is cancelled (the caller hung
// up). Stop is idempotent.
func (c *Controller) Stop() {
	c.once.Do(func() { close(c.done) })
	c.wg.Wait()
}

func (c *Controller) drop() {
	c.dropped.Add(1)
	c.pipe.metrics.DroppedChunks.Add(context.Background(), 1)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// run is the loop goroutine. All stream state lives here.
func (c *Controller) run(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.finished)
	defer close(c.utterances)
	defer func() {
		if !c.ended {
			c.cancelConversation()
		}
	}()
	defer c.setState(StateTerminal)

	c.setState(StateGreeting)
	greeting, err := c.pipe.Greet(ctx, c.conversationID, c.cfg.Language)
	if err != nil {
		c.pipe.log.ErrorContext(ctx, "call greeting failed",
			slog.String("conversation_id", c.conversationID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !c.emit(ctx, greeting) {
		return
	}
	c.resetWindow()
	c.setState(StateListening)

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case chunk := <-c.chunks:
			c.absorb(chunk)
		case <-ticker.C:
		}

		if !c.turnDue() {
			continue
		}
		if !c.runTurn(ctx) {
			return
		}
		c.resetWindow()
		c.setState(StateListening)
	}
}

// absorb folds one chunk into the rolling buffer and the silence accounting.
// Per-chunk voice detection ignores the minimum-duration gate: a short
// voiced chunk still resets the trailing-silence clock, while the full
// utterance decision stays with the pipeline's VAD pass.
//
// Leading silence is discarded and trailing silence is trimmed at flush, so
// the recognizer sees the spoken span, not the pauses around it. Pauses
// between voiced chunks stay in the buffer.
func (c *Controller) absorb(chunk []byte) {
	c.lastChunkAt = time.Now()

	d := vad.AnalyzeBytes(chunk, c.cfg.SampleRate, c.pipe.tun().vad)
	ms := bytesToMs(len(chunk), c.cfg.SampleRate)

	if d.HasSpeech || d.Reason == vad.ReasonTooShort {
		c.buffer = append(c.buffer, chunk...)
		c.speechEnd = len(c.buffer)
		c.hadSpeech = true
		c.silenceMs = 0
		c.idleMs = 0
		return
	}
	if c.hadSpeech {
		c.buffer = append(c.buffer, chunk...)
		c.silenceMs += ms
	} else {
		c.idleMs += ms
	}
}

// turnDue decides whether the accumulated window warrants a turn. Silence is
// tracked two ways: from chunk content for live streams, and from the wall
// clock for streams that stall entirely.
func (c *Controller) turnDue() bool {
	now := time.Now()

	if c.hadSpeech {
		if c.silenceMs >= int(c.cfg.EndOfUtteranceSilence.Milliseconds()) {
			return true
		}
		if now.Sub(c.lastChunkAt) >= c.cfg.EndOfUtteranceSilence {
			return true
		}
		if len(c.buffer) >= msToBytes(int(c.cfg.MaxUtterance.Milliseconds()), c.cfg.SampleRate) {
			return true
		}
		return false
	}

	if c.idleMs >= int(c.cfg.SilenceWindow.Milliseconds()) {
		return true
	}
	return now.Sub(c.windowStart) >= c.cfg.SilenceWindow
}

// runTurn hands the window to the pipeline and delivers the result. It
// returns false when the loop must end: a terminal turn, a dead transport,
// or a turn error.
func (c *Controller) runTurn(ctx context.Context) bool {
	c.setState(StateProcessing)

	clip := c.buffer[:c.speechEnd]
	res, err := c.pipe.ProcessClip(ctx, c.conversationID, clip, c.cfg.SampleRate, c.cfg.Language)
	if err != nil {
		if errors.Is(err, dialog.ErrSessionTerminal) {
			c.ended = true
		}
		c.pipe.log.ErrorContext(ctx, "voice turn failed",
			slog.String("conversation_id", c.conversationID),
			slog.String("error", err.Error()),
		)
		return false
	}

	c.setState(StateSpeaking)
	if !c.emit(ctx, res) {
		return false
	}

	if res.Turn.ShouldEnd || res.Turn.NeedsEscalation {
		c.ended = true
		return false
	}
	return true
}

// emit delivers one result to the transport, giving up when the loop is
// being torn down.
func (c *Controller) emit(ctx context.Context, res VoiceResult) bool {
	select {
	case c.utterances <- res:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// resetWindow clears the rolling buffer and restarts silence accounting.
func (c *Controller) resetWindow() {
	c.buffer = nil
	c.speechEnd = 0
	c.hadSpeech = false
	c.silenceMs = 0
	c.idleMs = 0
	now := time.Now()
	c.lastChunkAt = now
	c.windowStart = now
}

// cancelConversation marks the dialogue session cancelled after the
// transport went away. The loop context may already be dead, so the call
// runs under its own deadline.
func (c *Controller) cancelConversation() {
	cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.pipe.Cancel(cctx, c.conversationID); err != nil {
		c.pipe.log.WarnContext(cctx, "cancel after transport close failed",
			slog.String("conversation_id", c.conversationID),
			slog.String("error", err.Error()),
		)
	}
}

// bytesToMs converts a mono 16-bit PCM byte count to milliseconds.
func bytesToMs(n, sampleRate int) int {
	if sampleRate <= 0 {
		return 0
	}
	return n * 1000 / (sampleRate * 2)
}

// msToBytes converts milliseconds to a mono 16-bit PCM byte count.
func msToBytes(ms, sampleRate int) int {
	return ms * sampleRate * 2 / 1000
}
