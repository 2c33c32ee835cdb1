package resilience

import (
	"context"
	"errors"
	"testing"

	nlumock "github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/nlu/mock"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

func TestNLUFallback_PrimarySuccess(t *testing.T) {
	primary := &nlumock.Provider{Result: dialog.NLUResult{
		Intent:     dialog.IntentCheckSubscription,
		Confidence: 0.92,
		Sentiment:  dialog.SentimentNeutral,
	}}
	secondary := &nlumock.Provider{}

	fb := NewNLUFallback(primary, "openai", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("keyword", secondary)

	res, err := fb.Analyze(context.Background(), "is my plan active", dialog.LanguageEN)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Intent != dialog.IntentCheckSubscription {
		t.Fatalf("intent = %q, want check subscription", res.Intent)
	}
	if secondary.CallCount() != 0 {
		t.Fatal("fallback should not run when primary succeeds")
	}
}

func TestNLUFallback_FailoverToKeyword(t *testing.T) {
	primary := &nlumock.Provider{AnalyzeErr: errors.New("model host down")}
	secondary := &nlumock.Provider{Result: dialog.NLUResult{
		Intent:     dialog.IntentFindNearestStation,
		Confidence: 0.7,
		Sentiment:  dialog.SentimentNeutral,
	}}

	fb := NewNLUFallback(primary, "openai", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("keyword", secondary)

	res, err := fb.Analyze(context.Background(), "nearest station please", dialog.LanguageEN)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Intent != dialog.IntentFindNearestStation {
		t.Fatalf("intent = %q, want find nearest station", res.Intent)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Fatalf("calls: primary=%d secondary=%d, want 1/1",
			primary.CallCount(), secondary.CallCount())
	}
}

func TestNLUFallback_AllFail(t *testing.T) {
	primary := &nlumock.Provider{AnalyzeErr: errors.New("down")}

	fb := NewNLUFallback(primary, "openai", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	_, err := fb.Analyze(context.Background(), "hello", dialog.LanguageHI)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
