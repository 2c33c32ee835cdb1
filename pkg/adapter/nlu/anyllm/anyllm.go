// Package anyllm provides an understanding provider backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and
// more. It reuses the same classification prompt as the OpenAI provider, so
// the intent vocabulary stays identical across backends.
//
// Usage:
//
//	p, err := anyllm.New("ollama", "llama3.2", anyllmlib.WithBaseURL("http://localhost:11434"))
//	p, err := anyllm.NewAnthropic("claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/nlu"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

// classifyTemperature keeps the classifier stable across retries.
const classifyTemperature = 0.3

// Compile-time assertion that Provider implements nlu.Provider.
var _ nlu.Provider = (*Provider)(nil)

// Provider implements nlu.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Provider that classifies through the named any-llm-go
// backend.
//
// name is one of "openai", "anthropic", "gemini", "deepseek", "mistral",
// "groq", "ollama", "llamacpp", or "llamafile"; model names the concrete
// model ("gpt-4o-mini", "llama3.2"). opts configure the backend; without
// an API key option each backend falls back to its usual environment
// variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, and so on).
func New(name, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("anyllm: provider name must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(name, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", name, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

// NewOpenAI is shorthand for New("openai", model, opts...).
func NewOpenAI(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("openai", model, opts...)
}

// NewAnthropic is shorthand for New("anthropic", model, opts...).
func NewAnthropic(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("anthropic", model, opts...)
}

// NewOllama is shorthand for New("ollama", model, opts...). Without a base
// URL option the backend talks to the local daemon at http://localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

// createBackend instantiates the any-llm-go backend for name.
func createBackend(name string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(name) {
	// Hosted APIs.
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	// Local inference.
	case "ollama":
		return ollama.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	}
	return nil, fmt.Errorf("unknown LLM provider %q (want one of openai, anthropic, gemini, deepseek, mistral, groq, ollama, llamacpp, llamafile)", name)
}

// systemPrompt instructs the model to answer with exactly one JSON object.
// Kept in sync with the OpenAI provider so both classify identically.
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
}`

// classification mirrors the JSON object the prompt demands.
type classification struct {
	Intent     string            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities"`
	Sentiment  string            `json:"sentiment"`
}

// Analyze implements nlu.Provider.
func (p *Provider) Analyze(ctx context.Context, text string, lang dialog.Language) (dialog.NLUResult, error) {
	temp := classifyTemperature
	params := anyllmlib.CompletionParams{
		Model: p.model,
		Messages: []anyllmlib.Message{
			{Role: anyllmlib.RoleSystem, Content: systemPrompt},
			{Role: anyllmlib.RoleUser, Content: text},
		},
		Temperature: &temp,
	}

	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return dialog.NLUResult{}, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return dialog.NLUResult{}, fmt.Errorf("anyllm: empty choices in response")
	}

	return parseClassification(resp.Choices[0].Message.ContentString())
}

// parseClassification extracts the JSON object from the model reply and maps
// it onto the closed vocabularies.
func parseClassification(content string) (dialog.NLUResult, error) {
	raw := extractJSON(content)
	if raw == "" {
		return dialog.NLUResult{}, fmt.Errorf("anyllm: no JSON object in model reply")
	}

	var c classification
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return dialog.NLUResult{}, fmt.Errorf("anyllm: parse model reply: %w", err)
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
// fences and prose around the object.
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
