package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

// ── Constructor ───────────────────────────────────────────────────────────────

// TestNew_EmptyProviderName checks that an empty provider name returns an error.
func TestNew_EmptyProviderName(t *testing.T) {
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

// TestNew_EmptyModel checks that an empty model name returns an error.
func TestNew_EmptyModel(t *testing.T) {
	if _, err := New("openai", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestNew_UnsupportedProvider checks that an unsupported provider returns an error.
func TestNew_UnsupportedProvider(t *testing.T) {
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

// TestNew_KnownProviders checks that each supported backend constructs.
func TestNew_KnownProviders(t *testing.T) {
	tests := []struct {
		name string
		fn   func() (*Provider, error)
	}{
		{"openai", func() (*Provider, error) { return New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-test")) }},
		{"anthropic", func() (*Provider, error) {
			return NewAnthropic("claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-test"))
		}},
		{"ollama", func() (*Provider, error) { return NewOllama("llama3.2") }},
		{"case-insensitive", func() (*Provider, error) { return New("OpenAI", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-test")) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.fn()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p == nil {
				t.Fatal("expected non-nil provider")
			}
		})
	}
}

// ── parseClassification ───────────────────────────────────────────────────────

// TestParseClassification_Valid checks a plain JSON reply maps onto the
// dialog vocabularies.
func TestParseClassification_Valid(t *testing.T) {
	res, err := parseClassification(`{"intent": "CheckSubscription", "confidence": 0.88, "entities": {"plan": "unlimited"}, "sentiment": "positive"}`)
	if err != nil {
		t.Fatalf("parseClassification: %v", err)
	}
	if res.Intent != dialog.IntentCheckSubscription {
		t.Errorf("Intent = %v, want CheckSubscription", res.Intent)
	}
	if res.Confidence != 0.88 {
		t.Errorf("Confidence = %v, want 0.88", res.Confidence)
	}
	if res.Entities["plan"] != "unlimited" {
		t.Errorf("Entities = %v", res.Entities)
	}
	if res.Sentiment != dialog.SentimentPositive {
		t.Errorf("Sentiment = %v, want positive", res.Sentiment)
	}
}

// TestParseClassification_FencedReply checks markdown fences around the
// object are tolerated.
func TestParseClassification_FencedReply(t *testing.T) {
	res, err := parseClassification("```json\n{\"intent\": \"FindNearestStation\", \"confidence\": 0.9}\n```")
	if err != nil {
		t.Fatalf("parseClassification: %v", err)
	}
	if res.Intent != dialog.IntentFindNearestStation {
		t.Errorf("Intent = %v, want FindNearestStation", res.Intent)
	}
}

// TestParseClassification_ClampsConfidence checks out-of-range confidences
// are clamped to [0, 1].
func TestParseClassification_ClampsConfidence(t *testing.T) {
	res, err := parseClassification(`{"intent": "Unknown", "confidence": 2.5}`)
	if err != nil {
		t.Fatalf("parseClassification high: %v", err)
	}
	if res.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", res.Confidence)
	}

	res, err = parseClassification(`{"intent": "Unknown", "confidence": -0.4}`)
	if err != nil {
		t.Fatalf("parseClassification low: %v", err)
	}
	if res.Confidence != 0.0 {
		t.Errorf("Confidence = %v, want 0.0", res.Confidence)
	}
}

// TestParseClassification_OutOfSetDegrades checks unknown intents and
// sentiments degrade instead of failing the turn.
func TestParseClassification_OutOfSetDegrades(t *testing.T) {
	res, err := parseClassification(`{"intent": "OrderPizza", "confidence": 0.9, "sentiment": "ecstatic"}`)
	if err != nil {
		t.Fatalf("parseClassification: %v", err)
	}
	if res.Intent != dialog.IntentUnknown {
		t.Errorf("Intent = %v, want Unknown", res.Intent)
	}
	if res.Sentiment != dialog.SentimentNeutral {
		t.Errorf("Sentiment = %v, want neutral", res.Sentiment)
	}
}

// TestParseClassification_NoJSON checks a prose-only reply is an error.
func TestParseClassification_NoJSON(t *testing.T) {
	if _, err := parseClassification("Sorry, I cannot classify that."); err == nil {
		t.Fatal("expected error for reply without JSON")
	}
}

// ── extractJSON ───────────────────────────────────────────────────────────────

// TestExtractJSON covers brace balancing, strings, and escapes.
func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a": 1}`, `{"a": 1}`},
		{"prose around", `Here you go: {"a": 1} hope that helps`, `{"a": 1}`},
		{"nested", `{"a": {"b": 2}}`, `{"a": {"b": 2}}`},
		{"brace in string", `{"a": "}"}`, `{"a": "}"}`},
		{"escaped quote", `{"a": "say \"hi\" {now}"}`, `{"a": "say \"hi\" {now}"}`},
		{"no object", `nothing here`, ""},
		{"unbalanced", `{"a": 1`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSON(tt.in); got != tt.want {
				t.Errorf("extractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
