// Package dialog defines the conversation data model shared across the
// voice agent.
//
// These types form the lingua franca between the orchestrator, the turn
// controller, the adapters, and the session stores. They are intentionally
// minimal: each package defines its own domain types, but cross-cutting
// data structures live here to avoid circular imports.
package dialog

import (
	"strings"
	"time"
)

// Language identifies the language of a conversation turn.
type Language string

const (
	// LanguageEN is English, the default when negotiation fails.
	LanguageEN Language = "en"

	// LanguageHI is Hindi.
	LanguageHI Language = "hi"
)

// ParseLanguage normalizes a language identifier. It accepts both short
// codes ("en", "hi") and region-qualified tags ("en-US", "hi-IN"),
// case-insensitively. Unrecognized values fall back to English.
func ParseLanguage(s string) Language {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hi", "hi-in":
		return LanguageHI
	case "en", "en-us", "en-gb", "en-in", "":
		return LanguageEN
	default:
		return LanguageEN
	}
}

// Tag returns the region-qualified BCP 47 tag used by speech providers.
func (l Language) Tag() string {
	if l == LanguageHI {
		return "hi-IN"
	}
	return "en-US"
}

// String returns the short language code.
func (l Language) String() string {
	if l == LanguageHI {
		return string(LanguageHI)
	}
	return string(LanguageEN)
}

// Intent enumerates the closed set of caller goals the agent understands.
// The wire values are stable and shared with the understanding adapters.
type Intent string

const (
	IntentGetSwapHistory     Intent = "GetSwapHistory"
	IntentExplainInvoice     Intent = "ExplainInvoice"
	IntentFindNearestStation Intent = "FindNearestStation"
	IntentCheckAvailability  Intent = "CheckAvailability"
	IntentCheckSubscription  Intent = "CheckSubscription"
	IntentRenewSubscription  Intent = "RenewSubscription"
	IntentPricingInfo        Intent = "PricingInfo"
	IntentLeaveInfo          Intent = "LeaveInfo"
	IntentFindDSK            Intent = "FindDSK"
	IntentUnknown            Intent = "Unknown"
)

// Intents lists every dispatchable intent, excluding Unknown.
var Intents = []Intent{
	IntentGetSwapHistory,
	IntentExplainInvoice,
	IntentFindNearestStation,
	IntentCheckAvailability,
	IntentCheckSubscription,
	IntentRenewSubscription,
	IntentPricingInfo,
	IntentLeaveInfo,
	IntentFindDSK,
}

// ParseIntent maps a wire value onto the closed set. Anything outside the
// set, including the empty string, parses as IntentUnknown.
func ParseIntent(s string) Intent {
	for _, it := range Intents {
		if strings.EqualFold(s, string(it)) {
			return it
		}
	}
	return IntentUnknown
}

// Known reports whether the intent is a dispatchable member of the closed
// set. The zero value and IntentUnknown are both "no intent latched".
func (i Intent) Known() bool {
	return i != "" && i != IntentUnknown
}

// Sentiment classifies the emotional tone of a user utterance.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
	SentimentAngry    Sentiment = "angry"
)

// ParseSentiment normalizes a sentiment wire value. Unrecognized values
// parse as neutral.
func ParseSentiment(s string) Sentiment {
	switch Sentiment(strings.ToLower(strings.TrimSpace(s))) {
	case SentimentPositive:
		return SentimentPositive
	case SentimentNegative:
		return SentimentNegative
	case SentimentAngry:
		return SentimentAngry
	default:
		return SentimentNeutral
	}
}

// Status is the lifecycle phase of a conversation.
type Status string

const (
	// StatusActive means the conversation accepts further turns.
	StatusActive Status = "active"

	// StatusCompleted means the conversation ended normally.
	StatusCompleted Status = "completed"

	// StatusEscalated means the conversation was handed to a human agent.
	StatusEscalated Status = "escalated"
)

// Terminal reports whether the conversation accepts no further turns.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusEscalated
}

// Role identifies the author of a history entry.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Turn is one utterance in the conversation history.
type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// NLUResult is the output of the understanding adapter for one utterance.
type NLUResult struct {
	// Intent is the classified caller goal, IntentUnknown when unsure.
	Intent Intent `json:"intent"`

	// Confidence is the classifier's score in [0,1].
	Confidence float64 `json:"confidence"`

	// Entities holds extracted slot values, normalized to strings.
	Entities map[string]string `json:"entities,omitempty"`

	// Sentiment is the detected emotional tone.
	Sentiment Sentiment `json:"sentiment"`
}

// TurnResult is what one completed turn hands back to the transport layer.
// Escalation travels here as a flag, never as an error.
type TurnResult struct {
	// Reply is the natural-language bot response for this turn.
	Reply string `json:"reply_text"`

	// ShouldEnd is set when the conversation is over after this reply.
	ShouldEnd bool `json:"should_end"`

	// NeedsEscalation is set when the session was handed to a human agent.
	NeedsEscalation bool `json:"needs_escalation"`

	// ProactivePrompt marks replies triggered by caller silence rather
	// than by an utterance.
	ProactivePrompt bool `json:"proactive_prompt,omitempty"`

	// Data carries structured lookup results for transports that want them.
	Data map[string]any `json:"data,omitempty"`
}

// State is the full per-conversation record. One State exists per
// conversation id; it is mutated only by the turn that holds the session
// lock and persisted after every committed turn.
type State struct {
	// ID is the opaque conversation identifier.
	ID string `json:"conversation_id"`

	// DriverID identifies the caller when known from auth or telephony
	// context. Empty until established.
	DriverID string `json:"driver_id,omitempty"`

	// Language is the negotiated conversation language. A turn may switch it.
	Language Language `json:"language"`

	// CurrentIntent is the latched intent being slot-filled across turns.
	// IntentUnknown (or empty) means nothing is latched.
	CurrentIntent Intent `json:"current_intent,omitempty"`

	// Slots holds the collected intent parameters. Later turns overwrite
	// earlier values for the same key.
	Slots map[string]string `json:"slots,omitempty"`

	// Status is the lifecycle phase. Terminal states reject further turns.
	Status Status `json:"status"`

	// EndReason records why a terminal state was entered.
	EndReason string `json:"end_reason,omitempty"`

	// History is the append-only turn log, user and bot interleaved.
	History []Turn `json:"history"`

	// RetryCount counts consecutive low-confidence user turns.
	RetryCount int `json:"retry_count"`

	// NoResponseCount counts consecutive silence-only turns in the voice loop.
	NoResponseCount int `json:"no_response_count"`

	// DroppedChunks counts audio chunks discarded under backpressure.
	DroppedChunks int `json:"dropped_chunks,omitempty"`

	// CreatedAt is when the conversation was first seen.
	CreatedAt time.Time `json:"created_at"`

	// LastActivity is the completion time of the most recent turn. It
	// strictly increases across committed turns.
	LastActivity time.Time `json:"last_activity"`
}

// NewState returns an active conversation in the given language.
func NewState(id string, lang Language, now time.Time) *State {
	return &State{
		ID:           id,
		Language:     lang,
		Status:       StatusActive,
		Slots:        make(map[string]string),
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Append records one utterance at the end of the history.
func (s *State) Append(role Role, text string, at time.Time) {
	s.History = append(s.History, Turn{Role: role, Text: text, At: at})
}

// Terminal reports whether the conversation accepts no further turns.
func (s *State) Terminal() bool {
	return s.Status.Terminal()
}

// Clone returns a deep copy, safe to hand outside the session lock.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	if s.Slots != nil {
		out.Slots = make(map[string]string, len(s.Slots))
		for k, v := range s.Slots {
			out.Slots[k] = v
		}
	}
	if s.History != nil {
		out.History = make([]Turn, len(s.History))
		copy(out.History, s.History)
	}
	return &out
}
