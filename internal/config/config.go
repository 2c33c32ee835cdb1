// Package config provides the configuration schema, loader, and adapter
// registry for the voice agent server.
package config

import (
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/HeckSmart/multilingual-voiceagent/pkg/vad"
)

// LogLevel controls log verbosity for the server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	return l == LogDebug || l == LogInfo || l == LogWarn || l == LogError
}

// Level maps l onto its slog equivalent. Unrecognised values map to Info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// AdapterKind names one pluggable slot in the conversation pipeline.
type AdapterKind string

const (
	// KindRecognizer is speech-to-text.
	KindRecognizer AdapterKind = "recognizer"

	// KindUnderstander is intent + entity + sentiment extraction.
	KindUnderstander AdapterKind = "understander"

	// KindSynthesizer is text-to-speech.
	KindSynthesizer AdapterKind = "synthesizer"

	// KindData is the fleet-platform data client.
	KindData AdapterKind = "data"

	// KindHandoff is the human-agent escalation channel.
	KindHandoff AdapterKind = "handoff"

	// KindStore is the session store. Configured via the session_store
	// block rather than the adapters list.
	KindStore AdapterKind = "store"

	// KindEmbedder is the knowledge-base embedding backend. Configured via
	// the knowledge block rather than the adapters list.
	KindEmbedder AdapterKind = "embedder"
)

// IsValid reports whether k is a recognised adapter kind.
func (k AdapterKind) IsValid() bool {
	switch k {
	case KindRecognizer, KindUnderstander, KindSynthesizer, KindData,
		KindHandoff, KindStore, KindEmbedder:
		return true
	}
	return false
}

// Backpressure selects what happens to audio chunks that arrive while the
// turn loop cannot consume them.
type Backpressure string

const (
	BackpressureDrop  Backpressure = "drop"
	BackpressureQueue Backpressure = "queue"
)

// IsValid reports whether b is a recognised backpressure policy.
func (b Backpressure) IsValid() bool {
	return b == BackpressureDrop || b == BackpressureQueue
}

// Config is the root configuration structure for the voice agent.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Dialog       DialogConfig       `yaml:"dialog"`
	Turn         TurnConfig         `yaml:"turn"`
	VAD          vad.Config         `yaml:"vad"`
	Timeouts     TimeoutsConfig     `yaml:"timeouts"`
	Adapters     []AdapterEntry     `yaml:"adapters"`
	SessionStore SessionStoreConfig `yaml:"session_store"`
	Knowledge    KnowledgeConfig    `yaml:"knowledge"`
	Audit        AuditConfig        `yaml:"audit"`

	// PromptsFile optionally points at a YAML file whose prompt buckets
	// override the built-in tables.
	PromptsFile string `yaml:"prompts_file"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// Host is the interface the HTTP server binds to.
	Host string `yaml:"host"`

	// Port is the TCP port the HTTP server listens on.
	Port int `yaml:"port"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// Metrics toggles the Prometheus /metrics endpoint.
	Metrics bool `yaml:"metrics"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	host := s.Host
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	return joinHostPort(host, port)
}

// DialogConfig tunes the dialogue policy.
type DialogConfig struct {
	// ConfidenceThreshold gates understanding results; scores below it take
	// the clarification branch.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// MaxRetry is the budget of consecutive low-confidence turns before
	// escalation.
	MaxRetry int `yaml:"max_retry"`

	// MaxNoResponse is the budget of consecutive silent turns before the
	// session ends.
	MaxNoResponse int `yaml:"max_no_response"`

	// DefaultLanguage is used when a request does not name one ("en", "hi").
	DefaultLanguage string `yaml:"default_language"`

	// AgentTriggers are case-insensitive substrings that force an immediate
	// handoff. Empty means the built-in set.
	AgentTriggers []string `yaml:"agent_triggers"`
}

// TurnConfig tunes the per-call audio loop.
type TurnConfig struct {
	// SilenceWindowMS is how long the loop waits in silence before speaking
	// a proactive prompt.
	SilenceWindowMS int `yaml:"silence_window_ms"`

	// EndOfUtteranceSilenceMS is the trailing silence that closes an
	// utterance and triggers recognition.
	EndOfUtteranceSilenceMS int `yaml:"end_of_utterance_silence_ms"`

	// MaxUtteranceMS caps the rolling utterance buffer.
	MaxUtteranceMS int `yaml:"max_utterance_ms"`

	// Backpressure selects the policy for audio the loop cannot consume.
	Backpressure Backpressure `yaml:"backpressure"`

	// QueueLimit bounds the inbound chunk queue.
	QueueLimit int `yaml:"queue_limit"`
}

// SilenceWindow returns SilenceWindowMS as a duration, defaulted when unset.
func (t TurnConfig) SilenceWindow() time.Duration {
	return msOrDefault(t.SilenceWindowMS, DefaultSilenceWindowMS)
}

// EndOfUtteranceSilence returns EndOfUtteranceSilenceMS as a duration,
// defaulted when unset.
func (t TurnConfig) EndOfUtteranceSilence() time.Duration {
	return msOrDefault(t.EndOfUtteranceSilenceMS, DefaultEndOfUtteranceSilenceMS)
}

// MaxUtterance returns MaxUtteranceMS as a duration, defaulted when unset.
func (t TurnConfig) MaxUtterance() time.Duration {
	return msOrDefault(t.MaxUtteranceMS, DefaultMaxUtteranceMS)
}

// TimeoutsConfig bounds each adapter call class, in milliseconds.
type TimeoutsConfig struct {
	UnderstandMS int `yaml:"understand_ms"`
	DataMS       int `yaml:"data_ms"`
	RecognizeMS  int `yaml:"recognize_ms"`
	SynthesizeMS int `yaml:"synthesize_ms"`
	HandoffMS    int `yaml:"handoff_ms"`
}

// Understand returns the language-understanding deadline.
func (t TimeoutsConfig) Understand() time.Duration {
	return msOrDefault(t.UnderstandMS, DefaultUnderstandMS)
}

// Data returns the fleet-data lookup deadline.
func (t TimeoutsConfig) Data() time.Duration {
	return msOrDefault(t.DataMS, DefaultDataMS)
}

// Recognize returns the speech-to-text deadline.
func (t TimeoutsConfig) Recognize() time.Duration {
	return msOrDefault(t.RecognizeMS, DefaultRecognizeMS)
}

// Synthesize returns the text-to-speech deadline.
func (t TimeoutsConfig) Synthesize() time.Duration {
	return msOrDefault(t.SynthesizeMS, DefaultSynthesizeMS)
}

// Handoff returns the escalation-dispatch deadline.
func (t TimeoutsConfig) Handoff() time.Duration {
	return msOrDefault(t.HandoffMS, DefaultHandoffMS)
}

// AdapterEntry selects one adapter implementation for one pipeline slot.
// The Name field is used to look up the constructor in the [Registry].
//
// Multiple entries of the same kind are allowed: the first is primary and
// the rest form an ordered fallback chain.
type AdapterEntry struct {
	// Kind names the pipeline slot this adapter fills.
	Kind AdapterKind `yaml:"kind"`

	// Name selects the registered implementation (e.g. "whisper", "keyword").
	Name string `yaml:"name"`

	// Options holds implementation-specific settings (API keys, URLs,
	// model names). Keys and values are strings.
	Options map[string]string `yaml:"options"`
}

// SessionStoreConfig selects and tunes the conversation-state store.
type SessionStoreConfig struct {
	// Name selects the registered store implementation
	// ("memory", "postgres", "redis").
	Name string `yaml:"name"`

	// Retention is how long terminal sessions are kept before purging,
	// in time.ParseDuration syntax ("30m", "1h"). Empty means the store's
	// default.
	Retention string `yaml:"retention"`

	// Options holds store-specific settings (DSN, address, prefix).
	Options map[string]string `yaml:"options"`
}

// RetentionDuration parses Retention, falling back to def when the field is
// empty or malformed. Validate reports malformed values as errors, so the
// fallback only matters for configs that skipped validation.
func (s SessionStoreConfig) RetentionDuration(def time.Duration) time.Duration {
	if s.Retention == "" {
		return def
	}
	d, err := time.ParseDuration(s.Retention)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// KnowledgeConfig tunes the optional retrieval layer behind informational
// intents. Disabled by default; handlers then fall back to the static
// localized summaries.
type KnowledgeConfig struct {
	// Enabled turns the knowledge base on.
	Enabled bool `yaml:"enabled"`

	// DSN is the PostgreSQL connection string for the article store.
	DSN string `yaml:"dsn"`

	// Embedder selects the registered embedding backend by name.
	Embedder string `yaml:"embedder"`

	// TopK is how many articles a search considers. Zero means the default.
	TopK int `yaml:"top_k"`

	// Options holds embedder-specific settings (API key, model).
	Options map[string]string `yaml:"options"`
}

// AuditConfig tunes the escalation audit trail.
type AuditConfig struct {
	// Path is the JSONL file escalation summaries are appended to.
	// Empty disables the audit log.
	Path string `yaml:"path"`
}

// Defaults for every tunable. Validate warns rather than errors when a
// zero field silently falls back to one of these.
const (
	DefaultHost     = "0.0.0.0"
	DefaultPort     = 8080
	DefaultLogLevel = LogInfo

	DefaultConfidenceThreshold = 0.6
	DefaultMaxRetry            = 2
	DefaultMaxNoResponse       = 3
	DefaultLanguage            = "en"

	DefaultSilenceWindowMS         = 1500
	DefaultEndOfUtteranceSilenceMS = 1500
	DefaultMaxUtteranceMS          = 30000
	DefaultQueueLimit              = 32

	DefaultUnderstandMS = 5000
	DefaultDataMS       = 5000
	DefaultRecognizeMS  = 10000
	DefaultSynthesizeMS = 10000
	DefaultHandoffMS    = 5000

	DefaultRetention = 30 * time.Minute
	DefaultTopK      = 3
)

// Default returns a fully-populated development configuration: in-memory
// everything, mock speech adapters, keyword understanding, and static
// fleet data. It is the config equivalent of "just run it".
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     DefaultHost,
			Port:     DefaultPort,
			LogLevel: DefaultLogLevel,
			Metrics:  true,
		},
		Dialog: DialogConfig{
			ConfidenceThreshold: DefaultConfidenceThreshold,
			MaxRetry:            DefaultMaxRetry,
			MaxNoResponse:       DefaultMaxNoResponse,
			DefaultLanguage:     DefaultLanguage,
		},
		Turn: TurnConfig{
			SilenceWindowMS:         DefaultSilenceWindowMS,
			EndOfUtteranceSilenceMS: DefaultEndOfUtteranceSilenceMS,
			MaxUtteranceMS:          DefaultMaxUtteranceMS,
			Backpressure:            BackpressureDrop,
			QueueLimit:              DefaultQueueLimit,
		},
		VAD: vad.DefaultConfig(),
		Timeouts: TimeoutsConfig{
			UnderstandMS: DefaultUnderstandMS,
			DataMS:       DefaultDataMS,
			RecognizeMS:  DefaultRecognizeMS,
			SynthesizeMS: DefaultSynthesizeMS,
			HandoffMS:    DefaultHandoffMS,
		},
		Adapters: []AdapterEntry{
			{Kind: KindRecognizer, Name: "mock"},
			{Kind: KindUnderstander, Name: "keyword"},
			{Kind: KindSynthesizer, Name: "mock"},
			{Kind: KindData, Name: "static"},
			{Kind: KindHandoff, Name: "log"},
		},
		SessionStore: SessionStoreConfig{
			Name:      "memory",
			Retention: DefaultRetention.String(),
		},
		Knowledge: KnowledgeConfig{
			TopK: DefaultTopK,
		},
	}
}

// ByKind returns the adapter entries of the given kind in declaration order.
func (c *Config) ByKind(kind AdapterKind) []AdapterEntry {
	var out []AdapterEntry
	for _, e := range c.Adapters {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func msOrDefault(ms, def int) time.Duration {
	if ms <= 0 {
		return time.Duration(def) * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
