// Package orchestrator implements the dialogue brain of the voice agent.
//
// An [Orchestrator] consumes recognized text (or a synthetic no-speech
// signal) for one conversation, drives understanding, slot filling,
// confidence gating, and sentiment-based escalation, and produces a
// [dialog.TurnResult] with a localized reply and lifecycle flags. All state
// mutation happens under the session store's per-conversation lock, so each
// conversation behaves as a single-threaded actor while distinct
// conversations proceed in parallel.
//
// Adapter failures are recovered here: the caller of [Orchestrator.HandleText]
// sees a natural apology reply, never a timeout error. Only terminal-session
// rejection, invalid input, context cancellation, and internal invariant
// violations cross the package boundary as errors.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync/atomic"
	"time"

	"github.com/HeckSmart/multilingual-voiceagent/internal/observe"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/fleet"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/handoff"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/nlu"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/session"
)

// Escalation reasons, recorded on the session and in the handoff summary.
// These strings are stable: the agent dashboard and the audit log key on
// them.
const (
	ReasonAgentRequested = "user requested agent or is angry"
	ReasonLowConfidence  = "low confidence after multiple attempts"
	ReasonNoResponse     = "no response"
	ReasonInternal       = "internal error"
	ReasonCancelled      = "cancelled"
)

// Dialogue policy defaults.
const (
	// DefaultConfidenceThreshold is the minimum understanding confidence
	// that passes the gate; scores at or above it proceed to dispatch.
	DefaultConfidenceThreshold = 0.6

	// DefaultMaxRetry is the number of consecutive low-confidence turns
	// tolerated before escalation.
	DefaultMaxRetry = 2

	// DefaultMaxNoResponse is the number of consecutive silent turns
	// tolerated before the session ends.
	DefaultMaxNoResponse = 3

	// DefaultDriverID stands in when a session carries no authenticated
	// driver identity. Backend lookups still need a key.
	DefaultDriverID = "driver_123"
)

// Adapter call deadlines.
const (
	DefaultUnderstandTimeout = 5 * time.Second
	DefaultDataTimeout       = 5 * time.Second
	DefaultHandoffTimeout    = 5 * time.Second
)

// defaultAgentTriggers are the substrings that force an immediate handoff,
// matched case-insensitively against the raw utterance.
var defaultAgentTriggers = []string{"agent", "executive", "human", "एजेंट"}

// Config tunes the dialogue policy. The zero value means "use defaults";
// [New] fills unset fields.
type Config struct {
	// ConfidenceThreshold gates understanding results. Scores below it take
	// the clarification branch; scores at or above it dispatch.
	ConfidenceThreshold float64

	// MaxRetry is the retry budget for consecutive low-confidence turns.
	// The turn after the budget is spent escalates.
	MaxRetry int

	// MaxNoResponse is the silence budget for the voice loop. The silence
	// after the budget is spent ends the session.
	MaxNoResponse int

	// AgentTriggers are case-insensitive substrings that short-circuit the
	// turn into an escalation.
	AgentTriggers []string

	// DriverFallbackID keys backend lookups for unauthenticated sessions.
	DriverFallbackID string
}

// Timeouts bounds each adapter call class. The zero value means "use
// defaults".
type Timeouts struct {
	// Understand bounds nlu.Provider.Analyze.
	Understand time.Duration

	// Data bounds every fleet.Provider call.
	Data time.Duration

	// Handoff bounds handoff.Provider.Escalate.
	Handoff time.Duration
}

// policy bundles the dialogue Config and adapter Timeouts into one value
// read through a single atomic load, so a turn never sees half-updated
// tuning when [Orchestrator.SetPolicy] swaps it mid-flight.
type policy struct {
	cfg      Config
	timeouts Timeouts
}

func defaultPolicy() policy {
	return policy{
		cfg: Config{
			ConfidenceThreshold: DefaultConfidenceThreshold,
			MaxRetry:            DefaultMaxRetry,
			MaxNoResponse:       DefaultMaxNoResponse,
			AgentTriggers:       defaultAgentTriggers,
			DriverFallbackID:    DefaultDriverID,
		},
		timeouts: Timeouts{
			Understand: DefaultUnderstandTimeout,
			Data:       DefaultDataTimeout,
			Handoff:    DefaultHandoffTimeout,
		},
	}
}

// mergeConfig overlays the set fields of src on dst.
func mergeConfig(dst *Config, src Config) {
	if src.ConfidenceThreshold > 0 {
		dst.ConfidenceThreshold = src.ConfidenceThreshold
	}
	if src.MaxRetry > 0 {
		dst.MaxRetry = src.MaxRetry
	}
	if src.MaxNoResponse > 0 {
		dst.MaxNoResponse = src.MaxNoResponse
	}
	if len(src.AgentTriggers) > 0 {
		dst.AgentTriggers = src.AgentTriggers
	}
	if src.DriverFallbackID != "" {
		dst.DriverFallbackID = src.DriverFallbackID
	}
}

// mergeTimeouts overlays the set fields of src on dst.
func mergeTimeouts(dst *Timeouts, src Timeouts) {
	if src.Understand > 0 {
		dst.Understand = src.Understand
	}
	if src.Data > 0 {
		dst.Data = src.Data
	}
	if src.Handoff > 0 {
		dst.Handoff = src.Handoff
	}
}

// Knowledge answers free-form questions from a document base. The
// orchestrator consults it for informational intents before falling back to
// static summaries. ok=false means no sufficiently relevant answer exists.
type Knowledge interface {
	Answer(ctx context.Context, query string, lang dialog.Language) (answer string, ok bool, err error)
}

// EscalationRecorder persists escalation summaries for offline review.
// Recording failures are logged, never surfaced to the caller.
type EscalationRecorder interface {
	RecordEscalation(ctx context.Context, s handoff.Summary) error
}

// FailureObserver sees the outcome of every adapter call, nil error
// included. It backs the degraded-adapter bookkeeping.
type FailureObserver interface {
	Observe(kind string, err error)
}

// Orchestrator drives one dialogue turn at a time per conversation. Safe
// for concurrent use across conversations; turns on the same conversation
// id serialize on the store lock.
type Orchestrator struct {
	store      session.Store
	understand nlu.Provider
	data       fleet.Provider
	agents     handoff.Provider
	kb         Knowledge          // nil disables knowledge lookups
	audit      EscalationRecorder // nil disables escalation persistence
	failures   FailureObserver    // nil disables degraded tracking
	policy     atomic.Pointer[policy]
	prompts    *Prompts
	now        func() time.Time
	log        *slog.Logger
	metrics    *observe.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig replaces the dialogue policy. Unset fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		p := *o.policy.Load()
		mergeConfig(&p.cfg, cfg)
		o.policy.Store(&p)
	}
}

// WithTimeouts replaces the adapter deadlines. Unset fields keep their
// defaults.
func WithTimeouts(t Timeouts) Option {
	return func(o *Orchestrator) {
		p := *o.policy.Load()
		mergeTimeouts(&p.timeouts, t)
		o.policy.Store(&p)
	}
}

// WithPrompts replaces the prompt tables.
func WithPrompts(p *Prompts) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.prompts = p
		}
	}
}

// WithKnowledge enables knowledge-base answers for informational intents.
func WithKnowledge(kb Knowledge) Option {
	return func(o *Orchestrator) { o.kb = kb }
}

// WithEscalationRecorder enables escalation persistence.
func WithEscalationRecorder(r EscalationRecorder) Option {
	return func(o *Orchestrator) { o.audit = r }
}

// WithFailureObserver wires adapter outcomes into degraded-state tracking.
func WithFailureObserver(f FailureObserver) Option {
	return func(o *Orchestrator) { o.failures = f }
}

// WithClock replaces the time source. Tests use this for deterministic
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger replaces the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// WithMetrics replaces the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// New returns an Orchestrator over the given store and adapters. The store,
// understander, data client, and handoff provider are required.
func New(store session.Store, understand nlu.Provider, data fleet.Provider, agents handoff.Provider, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("orchestrator: store must not be nil")
	}
	if understand == nil {
		return nil, errors.New("orchestrator: understander must not be nil")
	}
	if data == nil {
		return nil, errors.New("orchestrator: data client must not be nil")
	}
	if agents == nil {
		return nil, errors.New("orchestrator: handoff provider must not be nil")
	}

	o := &Orchestrator{
		store:      store,
		understand: understand,
		data:       data,
		agents:     agents,
		prompts:    DefaultPrompts(),
		now:        time.Now,
		log:        slog.Default(),
		metrics:    observe.DefaultMetrics(),
	}
	p := defaultPolicy()
	o.policy.Store(&p)
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// SetPolicy atomically replaces the dialogue policy and adapter deadlines.
// Unset fields fall back to the package defaults, mirroring [WithConfig] and
// [WithTimeouts]. In-flight turns finish under the policy they loaded;
// subsequent turns see the new values. Config hot-reload calls this.
func (o *Orchestrator) SetPolicy(cfg Config, t Timeouts) {
	p := defaultPolicy()
	mergeConfig(&p.cfg, cfg)
	mergeTimeouts(&p.timeouts, t)
	o.policy.Store(&p)
}

// pol returns the current policy snapshot.
func (o *Orchestrator) pol() *policy { return o.policy.Load() }

// HandleText drives one text turn for the conversation.
//
// lang switches the session language when non-empty; an empty lang keeps
// whatever the session already negotiated. The returned TurnResult is always
// speakable: adapter timeouts and outages surface as a localized apology,
// not as an error. Errors are limited to [dialog.ErrInvalidInput],
// [dialog.ErrSessionTerminal], context cancellation, and
// [dialog.ErrInternal] (which also escalates the session).
func (o *Orchestrator) HandleText(ctx context.Context, conversationID, text string, lang dialog.Language) (dialog.TurnResult, error) {
	if conversationID == "" {
		return dialog.TurnResult{}, fmt.Errorf("%w: conversation_id is required", dialog.ErrInvalidInput)
	}
	if strings.TrimSpace(text) == "" {
		return dialog.TurnResult{}, fmt.Errorf("%w: text is required", dialog.ErrInvalidInput)
	}

	var (
		result  dialog.TurnResult
		surface error
	)
	pol := o.pol()

	err := o.store.WithLock(ctx, conversationID, func(st *dialog.State) error {
		if st.Terminal() {
			return dialog.ErrSessionTerminal
		}
		if lang != "" {
			st.Language = lang
		}

		// Record the utterance; a spoken turn resets the silence budget.
		st.Append(dialog.RoleUser, text, o.now())
		st.NoResponseCount = 0

		res, err := o.analyze(ctx, text, st.Language)
		if err != nil {
			// A dead parent context means the caller is gone; roll the
			// turn back instead of committing an apology nobody hears.
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			result, surface = o.recoverTurn(ctx, st, err)
			o.touch(st)
			return nil
		}

		// Anger and explicit agent requests skip every other gate.
		if res.Sentiment == dialog.SentimentAngry || o.wantsAgent(text) {
			result = o.escalate(ctx, st, ReasonAgentRequested, res.Sentiment)
			st.Append(dialog.RoleBot, result.Reply, o.now())
			o.touch(st)
			return nil
		}

		// Confidence gate: scores at or above the threshold pass.
		if res.Confidence < pol.cfg.ConfidenceThreshold {
			st.RetryCount++
			if st.RetryCount > pol.cfg.MaxRetry {
				result = o.escalate(ctx, st, ReasonLowConfidence, res.Sentiment)
			} else {
				result = dialog.TurnResult{
					Reply: o.prompts.Pick(st.Language, PromptClarification, st.ID, st.RetryCount),
				}
			}
			st.Append(dialog.RoleBot, result.Reply, o.now())
			o.touch(st)
			return nil
		}

		// The intent latches before entities merge, so fresh entities apply
		// to the intent that produced them.
		if res.Intent.Known() {
			st.CurrentIntent = res.Intent
		}
		if len(res.Entities) > 0 {
			if st.Slots == nil {
				st.Slots = make(map[string]string, len(res.Entities))
			}
			maps.Copy(st.Slots, res.Entities)
		}

		if !st.CurrentIntent.Known() {
			result = dialog.TurnResult{
				Reply: o.prompts.Pick(st.Language, PromptRephrase, st.ID, len(st.History)),
			}
			st.Append(dialog.RoleBot, result.Reply, o.now())
			o.touch(st)
			return nil
		}

		result, err = o.dispatch(ctx, st)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			result, surface = o.recoverTurn(ctx, st, err)
			o.touch(st)
			return nil
		}

		st.Append(dialog.RoleBot, result.Reply, o.now())
		if !result.NeedsEscalation {
			st.RetryCount = 0
			if result.ShouldEnd {
				st.Status = dialog.StatusCompleted
			}
		}
		o.touch(st)
		return nil
	})
	if err != nil {
		return dialog.TurnResult{}, err
	}

	o.log.InfoContext(ctx, "turn completed",
		slog.String("conversation_id", conversationID),
		slog.Bool("should_end", result.ShouldEnd),
		slog.Bool("needs_escalation", result.NeedsEscalation),
	)
	return result, surface
}

// HandleNoSpeech drives a turn where the caller stayed silent. Within the
// silence budget it replies with a proactive prompt; past the budget it
// speaks a final line and escalates the session with reason "no response".
func (o *Orchestrator) HandleNoSpeech(ctx context.Context, conversationID string, lang dialog.Language) (dialog.TurnResult, error) {
	if conversationID == "" {
		return dialog.TurnResult{}, fmt.Errorf("%w: conversation_id is required", dialog.ErrInvalidInput)
	}

	var result dialog.TurnResult

	err := o.store.WithLock(ctx, conversationID, func(st *dialog.State) error {
		if st.Terminal() {
			return dialog.ErrSessionTerminal
		}
		if lang != "" {
			st.Language = lang
		}

		st.NoResponseCount++

		if st.NoResponseCount > o.pol().cfg.MaxNoResponse {
			result = o.escalate(ctx, st, ReasonNoResponse, "")
			result.Reply = o.prompts.Pick(st.Language, PromptNoResponseEnd, st.ID, 0)
			result.ProactivePrompt = true
		} else {
			result = dialog.TurnResult{
				Reply:           o.prompts.Pick(st.Language, PromptProactive, st.ID, st.NoResponseCount),
				ProactivePrompt: true,
			}
			o.metrics.RecordProactivePrompt(ctx, st.Language.String())
		}

		st.Append(dialog.RoleBot, result.Reply, o.now())
		o.touch(st)
		return nil
	})
	if err != nil {
		return dialog.TurnResult{}, err
	}
	return result, nil
}

// Greet opens (or reopens contact with) a conversation: it records and
// returns a localized greeting without consuming any user input. The voice
// loop speaks it on session start; the telephony webhook embeds it in the
// answer document.
func (o *Orchestrator) Greet(ctx context.Context, conversationID string, lang dialog.Language) (dialog.TurnResult, error) {
	if conversationID == "" {
		return dialog.TurnResult{}, fmt.Errorf("%w: conversation_id is required", dialog.ErrInvalidInput)
	}

	var result dialog.TurnResult

	err := o.store.WithLock(ctx, conversationID, func(st *dialog.State) error {
		if st.Terminal() {
			return dialog.ErrSessionTerminal
		}
		if lang != "" {
			st.Language = lang
		}
		result = dialog.TurnResult{
			Reply: o.prompts.Pick(st.Language, PromptGreeting, st.ID, 0),
		}
		st.Append(dialog.RoleBot, result.Reply, o.now())
		o.touch(st)
		return nil
	})
	if err != nil {
		return dialog.TurnResult{}, err
	}
	return result, nil
}

// Apologize records a localized apology for a turn lost before the dialogue
// core ran (speech recognition failed, for example). It mirrors the in-turn
// recovery policy: history gains the apology, the retry budget shrinks by
// one, and the session stays active.
func (o *Orchestrator) Apologize(ctx context.Context, conversationID string, lang dialog.Language) (dialog.TurnResult, error) {
	if conversationID == "" {
		return dialog.TurnResult{}, fmt.Errorf("%w: conversation_id is required", dialog.ErrInvalidInput)
	}

	var result dialog.TurnResult

	err := o.store.WithLock(ctx, conversationID, func(st *dialog.State) error {
		if st.Terminal() {
			return dialog.ErrSessionTerminal
		}
		if lang != "" {
			st.Language = lang
		}
		st.RetryCount++
		result = dialog.TurnResult{
			Reply: o.prompts.Pick(st.Language, PromptApology, st.ID, st.RetryCount),
		}
		st.Append(dialog.RoleBot, result.Reply, o.now())
		o.touch(st)
		return nil
	})
	if err != nil {
		return dialog.TurnResult{}, err
	}
	return result, nil
}

// Cancel ends a conversation from outside the dialogue: the caller hung up
// or the transport dropped. The session completes with reason "cancelled".
// Cancelling an already-terminal session is a no-op; Cancel is idempotent.
func (o *Orchestrator) Cancel(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return fmt.Errorf("%w: conversation_id is required", dialog.ErrInvalidInput)
	}

	return o.store.WithLock(ctx, conversationID, func(st *dialog.State) error {
		if st.Terminal() {
			return nil
		}
		st.Status = dialog.StatusCompleted
		st.EndReason = ReasonCancelled
		o.touch(st)
		o.log.InfoContext(ctx, "conversation cancelled",
			slog.String("conversation_id", st.ID),
		)
		return nil
	})
}

// recoverTurn maps an adapter failure onto the recovery policy. Timeouts
// and outages yield an apology reply and keep the session active; anything
// else escalates with reason "internal error" and surfaces
// [dialog.ErrInternal]. Callers rule out parent-context cancellation before
// calling.
func (o *Orchestrator) recoverTurn(ctx context.Context, st *dialog.State, err error) (dialog.TurnResult, error) {
	switch {
	case errors.Is(err, dialog.ErrAdapterTimeout), errors.Is(err, dialog.ErrAdapterUnavailable):
		st.RetryCount++
		o.log.WarnContext(ctx, "adapter failure recovered",
			slog.String("conversation_id", st.ID),
			slog.String("error", err.Error()),
		)
		result := dialog.TurnResult{
			Reply: o.prompts.Pick(st.Language, PromptApology, st.ID, st.RetryCount),
		}
		st.Append(dialog.RoleBot, result.Reply, o.now())
		return result, nil

	default:
		o.log.ErrorContext(ctx, "internal turn failure",
			slog.String("conversation_id", st.ID),
			slog.String("error", err.Error()),
		)
		result := o.escalate(ctx, st, ReasonInternal, "")
		st.Append(dialog.RoleBot, result.Reply, o.now())
		return result, fmt.Errorf("orchestrator: %w: %v", dialog.ErrInternal, err)
	}
}

// escalate moves the session to ESCALATED, delivers the handoff summary
// exactly once, and returns the acknowledgement result. Handoff and audit
// failures are logged, never user-visible. Delivery is detached from the
// turn's cancellation so a dying turn still reaches the agent queue.
func (o *Orchestrator) escalate(ctx context.Context, st *dialog.State, reason string, sentiment dialog.Sentiment) dialog.TurnResult {
	st.Status = dialog.StatusEscalated
	st.EndReason = reason

	summary := handoff.Summary{
		ConversationID: st.ID,
		DriverID:       st.DriverID,
		Reason:         reason,
		Intent:         st.CurrentIntent,
		Slots:          maps.Clone(st.Slots),
		Sentiment:      sentiment,
		History:        append([]dialog.Turn(nil), st.History...),
	}
	st.CurrentIntent = ""

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.pol().timeouts.Handoff)
	defer cancel()

	start := time.Now()
	err := o.agents.Escalate(hctx, summary)
	o.observeAdapter(ctx, "handoff", "escalate", start, err)
	if err != nil {
		o.log.ErrorContext(ctx, "handoff delivery failed",
			slog.String("conversation_id", st.ID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}

	if o.audit != nil {
		if err := o.audit.RecordEscalation(hctx, summary); err != nil {
			o.log.ErrorContext(ctx, "escalation audit failed",
				slog.String("conversation_id", st.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	o.metrics.RecordEscalation(ctx, reason)
	o.log.InfoContext(ctx, "conversation escalated",
		slog.String("conversation_id", st.ID),
		slog.String("reason", reason),
	)

	return dialog.TurnResult{
		Reply:           o.prompts.Pick(st.Language, PromptEscalationAck, st.ID, 0),
		ShouldEnd:       true,
		NeedsEscalation: true,
	}
}

// analyze runs the understander under its deadline and folds failures onto
// the adapter error taxonomy.
func (o *Orchestrator) analyze(ctx context.Context, text string, lang dialog.Language) (dialog.NLUResult, error) {
	actx, cancel := context.WithTimeout(ctx, o.pol().timeouts.Understand)
	defer cancel()

	start := time.Now()
	res, err := o.understand.Analyze(actx, text, lang)
	o.observeAdapter(ctx, "nlu", "analyze", start, err)
	if err != nil {
		return dialog.NLUResult{}, dialog.ClassifyAdapterErr("nlu", err)
	}
	return res, nil
}

// observeAdapter records duration, error class, and degraded-state signals
// for one adapter call.
func (o *Orchestrator) observeAdapter(ctx context.Context, kind, op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		class := "unavailable"
		if errors.Is(err, context.DeadlineExceeded) {
			class = "timeout"
		}
		o.metrics.RecordAdapterError(ctx, kind, op, class)
	}
	o.metrics.RecordAdapterCall(ctx, kind, op, outcome, time.Since(start).Seconds())
	if o.failures != nil {
		o.failures.Observe(kind, err)
	}
}

// wantsAgent reports whether the utterance contains any configured agent
// trigger, case-insensitively.
func (o *Orchestrator) wantsAgent(text string) bool {
	lower := strings.ToLower(text)
	for _, trigger := range o.pol().cfg.AgentTriggers {
		if trigger == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(trigger)) {
			return true
		}
	}
	return false
}

// touch advances LastActivity, nudging forward by a nanosecond when the
// clock has not moved so the timestamp strictly increases across committed
// turns.
func (o *Orchestrator) touch(st *dialog.State) {
	now := o.now()
	if !now.After(st.LastActivity) {
		now = st.LastActivity.Add(time.Nanosecond)
	}
	st.LastActivity = now
}
