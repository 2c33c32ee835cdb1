// Package keyword provides a deterministic understanding provider driven by
// keyword tables. It needs no network or model and serves three roles: the
// development default, the degraded-mode fallback when an LLM classifier is
// unreachable, and a fast pre-filter in tests.
//
// Matching is tolerant of speech recognition noise: ASCII keywords are
// compared token-by-token with Jaro-Winkler similarity (so "stashun" still
// hits "station"), while Devanagari keywords and multi-word phrases use plain
// substring containment. Drivers mix Hindi, English, and Hinglish freely, so
// every rule carries all three spellings.
package keyword

import (
	"context"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/nlu"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

// defaultFuzzyThreshold is the minimum Jaro-Winkler score for an ASCII token
// to count as a keyword hit.
const defaultFuzzyThreshold = 0.85

// Compile-time assertion that Provider implements nlu.Provider.
var _ nlu.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required for a
// token-level keyword match. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(p *Provider) {
		p.fuzzyThreshold = threshold
	}
}

// Provider is a keyword-table understander. It is read-only after
// construction and safe for concurrent use.
type Provider struct {
	fuzzyThreshold float64
}

// New returns a new keyword Provider configured with the supplied options.
func New(opts ...Option) *Provider {
	p := &Provider{fuzzyThreshold: defaultFuzzyThreshold}
	for _, o := range opts {
		o(p)
	}
	return p
}

// rule maps a keyword set onto one intent. Rules are evaluated in order and
// the first hit wins, so more specific intents come before broader ones
// ("renew subscription" must not fall through to CheckSubscription's
// "subscription" keyword in reverse).
type rule struct {
	intent     dialog.Intent
	confidence float64
	keywords   []string
}

var rules = []rule{
	{dialog.IntentRenewSubscription, 0.85, []string{
		"renew", "renewal", "recharge", "नवीनीकरण",
	}},
	{dialog.IntentExplainInvoice, 0.85, []string{
		"invoice", "bill", "बिल", "चालान",
	}},
	{dialog.IntentPricingInfo, 0.85, []string{
		"price", "pricing", "cost", "rate", "kitna lagega", "कीमत", "दाम",
	}},
	{dialog.IntentLeaveInfo, 0.85, []string{
		"leave", "chutti", "holiday", "छुट्टी",
	}},
	{dialog.IntentCheckSubscription, 0.85, []string{
		"subscription", "plan", "membership", "सदस्यता",
	}},
	{dialog.IntentFindDSK, 0.85, []string{
		"dsk", "service kendra", "seva kendra", "service center", "सेवा केंद्र",
	}},
	{dialog.IntentCheckAvailability, 0.85, []string{
		"availability", "available", "battery hai", "उपलब्ध",
	}},
	{dialog.IntentFindNearestStation, 0.9, []string{
		"station", "sthan", "kendra", "स्टेशन",
	}},
	{dialog.IntentGetSwapHistory, 0.85, []string{
		"swap", "history", "itihas", "इतिहास", "बदलाव",
	}},
}

// knownLocations maps recognizable location spellings (including Devanagari)
// onto their canonical entity value.
var knownLocations = map[string]string{
	"noida":     "Noida",
	"delhi":     "Delhi",
	"gurgaon":   "Gurgaon",
	"mumbai":    "Mumbai",
	"bangalore": "Bangalore",
	"नोएडा":     "Noida",
	"दिल्ली":    "Delhi",
	"गुरुग्राम": "Gurgaon",
	"मुंबई":     "Mumbai",
}

var greetingKeywords = []string{
	"hello", "hi", "namaste", "namaskar", "kaise ho",
	"नमस्ते", "नमस्कार", "हैलो",
}

var angryKeywords = []string{
	"angry", "bad", "problem", "issue", "गुस्सा",
}

// Analyze implements nlu.Provider. The language hint is unused: the keyword
// tables cover both languages and the caller's transcription may mix them.
func (p *Provider) Analyze(ctx context.Context, text string, lang dialog.Language) (dialog.NLUResult, error) {
	if err := ctx.Err(); err != nil {
		return dialog.NLUResult{}, err
	}

	lower := strings.ToLower(strings.TrimSpace(text))
	tokens := strings.Fields(lower)

	for _, r := range rules {
		if p.anyKeywordHit(lower, tokens, r.keywords) {
			return dialog.NLUResult{
				Intent:     r.intent,
				Confidence: r.confidence,
				Entities:   extractEntities(lower, tokens),
				Sentiment:  detectSentiment(lower),
			}, nil
		}
	}

	// Greetings are not a failure: answer confidently with Unknown so the
	// orchestrator asks what the caller needs instead of burning a retry.
	if p.anyKeywordHit(lower, tokens, greetingKeywords) {
		return dialog.NLUResult{
			Intent:     dialog.IntentUnknown,
			Confidence: 0.7,
			Sentiment:  dialog.SentimentPositive,
		}, nil
	}

	if containsAny(lower, angryKeywords) {
		return dialog.NLUResult{
			Intent:     dialog.IntentUnknown,
			Confidence: 0.5,
			Sentiment:  dialog.SentimentAngry,
		}, nil
	}

	return dialog.NLUResult{
		Intent:     dialog.IntentUnknown,
		Confidence: 0.3,
		Sentiment:  dialog.SentimentNeutral,
	}, nil
}

// anyKeywordHit reports whether any keyword matches the utterance. Multi-word
// and non-ASCII keywords use substring containment; single ASCII words are
// compared per token with Jaro-Winkler to absorb transcription noise. Short
// keywords ("hi", "dsk", "kal") must match exactly or they would collide with
// unrelated words.
func (p *Provider) anyKeywordHit(full string, tokens []string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.ContainsRune(kw, ' ') || !isASCII(kw) {
			if strings.Contains(full, kw) {
				return true
			}
			continue
		}
		for _, tok := range tokens {
			if tok == kw {
				return true
			}
			if len(kw) >= 4 && matchr.JaroWinkler(tok, kw, false) >= p.fuzzyThreshold {
				return true
			}
		}
	}
	return false
}

// extractEntities pulls location and date_range slot values out of the
// utterance. Only the first location hit is kept.
func extractEntities(full string, tokens []string) map[string]string {
	entities := make(map[string]string)

	for spelling, canonical := range knownLocations {
		if isASCII(spelling) {
			for _, tok := range tokens {
				if tok == spelling {
					entities["location"] = canonical
					break
				}
			}
		} else if strings.Contains(full, spelling) {
			entities["location"] = canonical
		}
		if _, ok := entities["location"]; ok {
			break
		}
	}

	switch {
	case strings.Contains(full, "yesterday"), containsToken(tokens, "kal"), strings.Contains(full, "कल"):
		entities["date_range"] = "yesterday"
	case strings.Contains(full, "today"), containsToken(tokens, "aaj"), strings.Contains(full, "आज"):
		entities["date_range"] = "today"
	}

	if len(entities) == 0 {
		return nil
	}
	return entities
}

// detectSentiment labels the utterance angry when it carries complaint
// vocabulary, neutral otherwise. Positive is reserved for greetings, which
// are handled before sentiment matters.
func detectSentiment(full string) dialog.Sentiment {
	if containsAny(full, angryKeywords) {
		return dialog.SentimentAngry
	}
	return dialog.SentimentNeutral
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func containsToken(tokens []string, want string) bool {
	for _, tok := range tokens {
		if tok == want {
			return true
		}
	}
	return false
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
