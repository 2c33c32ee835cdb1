// Package openai provides an understanding provider backed by the OpenAI
// chat completions API.
//
// The model is prompted to classify one utterance into the closed intent set
// and answer with a single JSON object. Drivers mix Hindi, English, and
// Hinglish freely, so the prompt carries examples of all three.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/nlu"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

const defaultModel = "gpt-4o-mini"

// classifyTemperature keeps the classifier stable across retries without
// making it fully deterministic.
const classifyTemperature = 0.3

// Compile-time assertion that Provider implements nlu.Provider.
var _ nlu.Provider = (*Provider)(nil)

// Provider implements nlu.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	model   string
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithModel overrides the default classification model.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI understanding Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: cfg.model}, nil
}

// systemPrompt instructs the model to answer with exactly one JSON object.
const systemPrompt = `You are an NLU system for a driver support voicebot.
Analyze the user's message and extract:
1. Intent (one of: GetSwapHistory, FindNearestStation, CheckSubscription, ExplainInvoice, CheckAvailability, RenewSubscription, PricingInfo, LeaveInfo, FindDSK, Unknown)
2. Entities (location, date_range, etc.)
3. Sentiment (positive, neutral, negative, angry)
4. Confidence (0.0 to 1.0)

IMPORTANT: Understand casual Hinglish and natural speech patterns.

Respond with a single JSON object and nothing else:
{
    "intent": "IntentType",
    "confidence": 0.9,
    "entities": {"location": "Noida", "date_range": "yesterday"},
    "sentiment": "neutral"
}

Examples:
- "नमस्ते, मुझे नोएडा में स्टेशन चाहिए" → {"intent": "FindNearestStation", "entities": {"location": "Noida"}, "confidence": 0.95}
- "hello kya jarurat hai?" → {"intent": "Unknown", "confidence": 0.8, "sentiment": "neutral"}
- "station chahiye noida me" → {"intent": "FindNearestStation", "entities": {"location": "Noida"}, "confidence": 0.9}
- "swap history kal ka" → {"intent": "GetSwapHistory", "entities": {"date_range": "yesterday"}, "confidence": 0.9}
- "kya help chahiye" → {"intent": "Unknown", "confidence": 0.7, "sentiment": "neutral"}`

// classification mirrors the JSON object the prompt demands.
type classification struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities"`
	Sentiment  string            `json:"sentiment"`
}

// Analyze implements nlu.Provider.
func (p *Provider) Analyze(ctx context.Context, text string, lang dialog.Language) (dialog.NLUResult, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(text),
		},
		Temperature: param.NewOpt(classifyTemperature),
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return dialog.NLUResult{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return dialog.NLUResult{}, fmt.Errorf("openai: empty choices in response")
	}

	return parseClassification(resp.Choices[0].Message.Content)
}

// parseClassification extracts the JSON object from the model reply and maps
// it onto the closed vocabularies. Out-of-set intents and sentiments degrade
// to Unknown and neutral rather than failing the turn.
func parseClassification(content string) (dialog.NLUResult, error) {
	raw := extractJSON(content)
	if raw == "" {
		return dialog.NLUResult{}, fmt.Errorf("openai: no JSON object in model reply")
	}

	var c classification
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return dialog.NLUResult{}, fmt.Errorf("openai: parse model reply: %w", err)
	}

	conf := c.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}

	return dialog.NLUResult{
		Intent:     dialog.ParseIntent(c.Intent),
		Confidence: conf,
		Entities:   c.Entities,
		Sentiment:  dialog.ParseSentiment(c.Sentiment),
	}, nil
}

// extractJSON returns the outermost {...} block in s, tolerating markdown
// fences and prose around the object. Returns "" when no balanced object
// is present.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
