package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidAdapterNames lists known implementation names per adapter kind.
// Used by [Validate] to warn about unrecognised names.
var ValidAdapterNames = map[AdapterKind][]string{
	KindRecognizer:   {"mock", "whisper", "whisper-native", "deepgram"},
	KindUnderstander: {"mock", "keyword", "openai", "anyllm"},
	KindSynthesizer:  {"mock", "elevenlabs", "coqui", "openai"},
	KindData:         {"mock", "static", "mcp"},
	KindHandoff:      {"mock", "log", "webhook", "discord"},
	KindStore:        {"mock", "memory", "postgres", "redis"},
	KindEmbedder:     {"mock", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] values and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// Empty file: run with defaults.
			return cfg, Validate(cfg)
		}
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
// Suspicious-but-workable values log warnings instead.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [0, 65535]", cfg.Server.Port))
	}

	// Dialog policy
	if cfg.Dialog.ConfidenceThreshold < 0 || cfg.Dialog.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("dialog.confidence_threshold %.2f is out of range [0, 1]", cfg.Dialog.ConfidenceThreshold))
	}
	if cfg.Dialog.MaxRetry < 0 {
		errs = append(errs, fmt.Errorf("dialog.max_retry %d is negative", cfg.Dialog.MaxRetry))
	}
	if cfg.Dialog.MaxNoResponse < 0 {
		errs = append(errs, fmt.Errorf("dialog.max_no_response %d is negative", cfg.Dialog.MaxNoResponse))
	}
	switch cfg.Dialog.DefaultLanguage {
	case "", "en", "en-US", "hi", "hi-IN":
	default:
		errs = append(errs, fmt.Errorf("dialog.default_language %q is invalid; valid values: en, en-US, hi, hi-IN", cfg.Dialog.DefaultLanguage))
	}

	// Turn loop
	if cfg.Turn.Backpressure != "" && !cfg.Turn.Backpressure.IsValid() {
		errs = append(errs, fmt.Errorf("turn.backpressure %q is invalid; valid values: drop, queue", cfg.Turn.Backpressure))
	}
	if cfg.Turn.Backpressure == BackpressureQueue && cfg.Turn.QueueLimit <= 0 {
		slog.Warn("turn.backpressure is queue but turn.queue_limit is not set; using default",
			"default", DefaultQueueLimit)
	}

	// VAD thresholds
	if cfg.VAD.ZCRSpeechMin > 0 && cfg.VAD.ZCRSpeechMax > 0 && cfg.VAD.ZCRSpeechMin >= cfg.VAD.ZCRSpeechMax {
		errs = append(errs, fmt.Errorf("vad.zcr_speech_min %.3f must be below vad.zcr_speech_max %.3f", cfg.VAD.ZCRSpeechMin, cfg.VAD.ZCRSpeechMax))
	}
	if cfg.VAD.SilenceThresholdRMS < 0 || cfg.VAD.SilenceThresholdRMS > 1 {
		errs = append(errs, fmt.Errorf("vad.silence_threshold_rms %.3f is out of range [0, 1]", cfg.VAD.SilenceThresholdRMS))
	}

	// Adapters
	seen := make(map[AdapterKind]int)
	for i, entry := range cfg.Adapters {
		prefix := fmt.Sprintf("adapters[%d]", i)
		if entry.Kind == "" {
			errs = append(errs, fmt.Errorf("%s.kind is required", prefix))
			continue
		}
		if !entry.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: recognizer, understander, synthesizer, data, handoff", prefix, entry.Kind))
			continue
		}
		if entry.Kind == KindStore || entry.Kind == KindEmbedder {
			errs = append(errs, fmt.Errorf("%s: kind %q is configured via its own section, not the adapters list", prefix, entry.Kind))
			continue
		}
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateAdapterName(entry.Kind, entry.Name)
		seen[entry.Kind]++
	}
	for _, kind := range []AdapterKind{KindUnderstander, KindData, KindHandoff} {
		if seen[kind] == 0 {
			errs = append(errs, fmt.Errorf("adapters: no %s configured; the conversation loop cannot run without one", kind))
		}
	}
	if seen[KindRecognizer] == 0 || seen[KindSynthesizer] == 0 {
		slog.Warn("no recognizer or synthesizer configured; voice endpoints will be unavailable")
	}

	// Session store
	if cfg.SessionStore.Name == "" {
		errs = append(errs, fmt.Errorf("session_store.name is required"))
	} else {
		validateAdapterName(KindStore, cfg.SessionStore.Name)
	}
	if cfg.SessionStore.Retention != "" {
		if d, err := time.ParseDuration(cfg.SessionStore.Retention); err != nil {
			errs = append(errs, fmt.Errorf("session_store.retention %q is not a duration: %w", cfg.SessionStore.Retention, err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("session_store.retention %q must be positive", cfg.SessionStore.Retention))
		}
	}

	// Knowledge base
	if cfg.Knowledge.Enabled {
		if cfg.Knowledge.DSN == "" {
			errs = append(errs, fmt.Errorf("knowledge.dsn is required when knowledge.enabled is true"))
		}
		if cfg.Knowledge.Embedder == "" {
			errs = append(errs, fmt.Errorf("knowledge.embedder is required when knowledge.enabled is true"))
		} else {
			validateAdapterName(KindEmbedder, cfg.Knowledge.Embedder)
		}
		if cfg.Knowledge.TopK < 0 {
			errs = append(errs, fmt.Errorf("knowledge.top_k %d is negative", cfg.Knowledge.TopK))
		}
	}

	return errors.Join(errs...)
}

// validateAdapterName logs a warning if name is not found in the
// [ValidAdapterNames] list for the given kind.
func validateAdapterName(kind AdapterKind, name string) {
	known, ok := ValidAdapterNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown adapter name — may be a typo or third-party adapter",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
