package keyword_test

import (
	"context"
	"testing"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/nlu/keyword"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

func TestAnalyze_StationIntent(t *testing.T) {
	t.Parallel()

	p := keyword.New()

	res, err := p.Analyze(context.Background(), "station chahiye noida me", dialog.LanguageEN)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Intent != dialog.IntentFindNearestStation {
		t.Errorf("intent=%q, want %q", res.Intent, dialog.IntentFindNearestStation)
	}
	if res.Confidence < 0.6 {
		t.Errorf("confidence=%f, want >= 0.6", res.Confidence)
	}
	if got := res.Entities["location"]; got != "Noida" {
		t.Errorf("location=%q, want %q", got, "Noida")
	}
}

func TestAnalyze_StationIntentHindi(t *testing.T) {
	t.Parallel()

	p := keyword.New()

	res, err := p.Analyze(context.Background(), "नमस्ते, मुझे नोएडा में स्टेशन चाहिए", dialog.LanguageHI)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Intent != dialog.IntentFindNearestStation {
		t.Errorf("intent=%q, want %q", res.Intent, dialog.IntentFindNearestStation)
	}
	if got := res.Entities["location"]; got != "Noida" {
		t.Errorf("location=%q, want %q", got, "Noida")
	}
}

func TestAnalyze_FuzzyStationMatch(t *testing.T) {
	t.Parallel()

	p := keyword.New()

	// Speech recognition noise: "staton" should still hit "station".
	res, err := p.Analyze(context.Background(), "nearest staton please", dialog.LanguageEN)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Intent != dialog.IntentFindNearestStation {
		t.Errorf("intent=%q, want %q", res.Intent, dialog.IntentFindNearestStation)
	}
}

func TestAnalyze_SwapHistoryWithDateRange(t *testing.T) {
	t.Parallel()

	p := keyword.New()

	res, err := p.Analyze(context.Background(), "swap history kal ka", dialog.LanguageEN)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Intent != dialog.IntentGetSwapHistory {
		t.Errorf("intent=%q, want %q", res.Intent, dialog.IntentGetSwapHistory)
	}
	if got := res.Entities["date_range"]; got != "yesterday" {
		t.Errorf("date_range=%q, want %q", got, "yesterday")
	}
}

func TestAnalyze_IntentTable(t *testing.T) {
	t.Parallel()

	p := keyword.New()

	cases := []struct {
		text string
		want dialog.Intent
	}{
		{"renew my subscription please", dialog.IntentRenewSubscription},
		{"subscription active hai kya", dialog.IntentCheckSubscription},
		{"explain my invoice", dialog.IntentExplainInvoice},
		{"battery available hai kya", dialog.IntentCheckAvailability},
		{"price kitna hai", dialog.IntentPricingInfo},
		{"chutti chahiye", dialog.IntentLeaveInfo},
		{"nearest service kendra", dialog.IntentFindDSK},
	}

	for _, tc := range cases {
		res, err := p.Analyze(context.Background(), tc.text, dialog.LanguageEN)
		if err != nil {
			t.Fatalf("Analyze(%q): %v", tc.text, err)
		}
		if res.Intent != tc.want {
			t.Errorf("Analyze(%q): intent=%q, want %q", tc.text, res.Intent, tc.want)
		}
		if res.Confidence < 0.6 {
			t.Errorf("Analyze(%q): confidence=%f, want >= 0.6", tc.text, res.Confidence)
		}
	}
}

func TestAnalyze_GreetingIsConfidentUnknown(t *testing.T) {
	t.Parallel()

	p := keyword.New()

	res, err := p.Analyze(context.Background(), "hello kya jarurat hai?", dialog.LanguageEN)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Intent != dialog.IntentUnknown {
		t.Errorf("intent=%q, want %q", res.Intent, dialog.IntentUnknown)
	}
	if res.Confidence != 0.7 {
		t.Errorf("confidence=%f, want 0.7", res.Confidence)
	}
	if res.Sentiment != dialog.SentimentPositive {
		t.Errorf("sentiment=%q, want %q", res.Sentiment, dialog.SentimentPositive)
	}
}

func TestAnalyze_AngryComplaint(t *testing.T) {
	t.Parallel()

	p := keyword.New()

	res, err := p.Analyze(context.Background(), "this is a big problem, very bad service", dialog.LanguageEN)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Sentiment != dialog.SentimentAngry {
		t.Errorf("sentiment=%q, want %q", res.Sentiment, dialog.SentimentAngry)
	}
	if res.Confidence != 0.5 {
		t.Errorf("confidence=%f, want 0.5", res.Confidence)
	}
}

func TestAnalyze_UnmatchedTextIsLowConfidenceUnknown(t *testing.T) {
	t.Parallel()

	p := keyword.New()

	res, err := p.Analyze(context.Background(), "the weather is nice", dialog.LanguageEN)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Intent != dialog.IntentUnknown {
		t.Errorf("intent=%q, want %q", res.Intent, dialog.IntentUnknown)
	}
	if res.Confidence >= 0.6 {
		t.Errorf("confidence=%f, want < 0.6", res.Confidence)
	}
}

func TestAnalyze_CancelledContext(t *testing.T) {
	t.Parallel()

	p := keyword.New()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Analyze(ctx, "station chahiye", dialog.LanguageEN); err == nil {
		t.Fatal("Analyze with cancelled context: err=nil, want error")
	}
}

func TestAnalyze_StrictThresholdRejectsFuzzyHits(t *testing.T) {
	t.Parallel()

	p := keyword.New(keyword.WithFuzzyThreshold(0.99))

	res, err := p.Analyze(context.Background(), "nearest staton please", dialog.LanguageEN)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if res.Intent != dialog.IntentUnknown {
		t.Errorf("intent=%q, want %q with threshold 0.99", res.Intent, dialog.IntentUnknown)
	}
}
