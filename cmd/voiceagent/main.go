// Command voiceagent is the main entry point for the driver-support voice
// agent server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	goredis "github.com/redis/go-redis/v9"

	"github.com/HeckSmart/multilingual-voiceagent/internal/app"
	"github.com/HeckSmart/multilingual-voiceagent/internal/config"
	"github.com/HeckSmart/multilingual-voiceagent/internal/resilience"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/asr"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/asr/deepgram"
	asrmock "github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/asr/mock"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/asr/whisper"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/embed"
	embedmock "github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/embed/mock"
	embedopenai "github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/embed/openai"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/fleet"
	fleetmcp "github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/fleet/mcp"
	fleetmock "github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/fleet/mock"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/fleet/static"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/handoff"
	hdiscord "github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/handoff/discord"
	hlog "github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/handoff/log"
	handoffmock "github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/handoff/mock"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/handoff/webhook"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/nlu"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/nlu/anyllm"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/nlu/keyword"
	nlumock "github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/nlu/mock"
	nluopenai "github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/nlu/openai"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/tts"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/tts/coqui"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/tts/elevenlabs"
	ttsmock "github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/tts/mock"
	ttsopenai "github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/tts/openai"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/session"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/session/memory"
	postgresstore "github.com/HeckSmart/multilingual-voiceagent/pkg/session/postgres"
	redisstore "github.com/HeckSmart/multilingual-voiceagent/pkg/session/redis"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voiceagent: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voiceagent: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, level := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voiceagent starting",
		"config", *configPath,
		"listen_addr", cfg.Server.Addr(),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	// Created before the adapters: stdio MCP servers and pooled store
	// connections bind their lifetime to it.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Adapter registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinAdapters(ctx, reg)

	// ── Instantiate adapters ──────────────────────────────────────────────────
	adapters, err := buildAdapters(cfg, reg)
	if err != nil {
		slog.Error("failed to build adapters", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, adapters,
		app.WithLogger(logger),
		app.WithLogLevel(level),
		app.WithConfigReload(*configPath),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Adapter wiring ──────────────────────────────────────────────────────────

// registerBuiltinAdapters wires all built-in adapter factories into reg. Each
// factory reads its implementation-specific settings from the entry's flat
// options map. ctx bounds the lifetime of adapters that hold child processes
// or connection pools (stdio MCP servers, the postgres store).
func registerBuiltinAdapters(ctx context.Context, reg *config.Registry) {
	// ── Recognizers ─────────────────────────────────────────────────────────

	reg.RegisterRecognizer("mock", func(config.AdapterEntry) (asr.Provider, error) {
		return &asrmock.Provider{}, nil
	})

	reg.RegisterRecognizer("whisper", func(entry config.AdapterEntry) (asr.Provider, error) {
		var opts []whisper.Option
		if m := entry.Options["model"]; m != "" {
			opts = append(opts, whisper.WithModel(m))
		}
		return whisper.New(entry.Options["url"], opts...)
	})

	reg.RegisterRecognizer("whisper-native", func(entry config.AdapterEntry) (asr.Provider, error) {
		var opts []whisper.NativeOption
		if lang := entry.Options["language"]; lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(entry.Options["model_path"], opts...)
	})

	reg.RegisterRecognizer("deepgram", func(entry config.AdapterEntry) (asr.Provider, error) {
		var opts []deepgram.Option
		if m := entry.Options["model"]; m != "" {
			opts = append(opts, deepgram.WithModel(m))
		}
		if e := entry.Options["endpoint"]; e != "" {
			opts = append(opts, deepgram.WithEndpoint(e))
		}
		return deepgram.New(entry.Options["api_key"], opts...)
	})

	// ── Understanders ───────────────────────────────────────────────────────

	reg.RegisterUnderstander("mock", func(config.AdapterEntry) (nlu.Provider, error) {
		return &nlumock.Provider{}, nil
	})

	reg.RegisterUnderstander("keyword", func(entry config.AdapterEntry) (nlu.Provider, error) {
		var opts []keyword.Option
		if v := entry.Options["fuzzy_threshold"]; v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("keyword: fuzzy_threshold %q: %w", v, err)
			}
			opts = append(opts, keyword.WithFuzzyThreshold(f))
		}
		return keyword.New(opts...), nil
	})

	reg.RegisterUnderstander("openai", func(entry config.AdapterEntry) (nlu.Provider, error) {
		var opts []nluopenai.Option
		if m := entry.Options["model"]; m != "" {
			opts = append(opts, nluopenai.WithModel(m))
		}
		if u := entry.Options["base_url"]; u != "" {
			opts = append(opts, nluopenai.WithBaseURL(u))
		}
		return nluopenai.New(entry.Options["api_key"], opts...)
	})

	// anyllm routes to any provider the gateway knows (anthropic, ollama,
	// mistral, …) selected by the "provider" option.
	reg.RegisterUnderstander("anyllm", func(entry config.AdapterEntry) (nlu.Provider, error) {
		var opts []anyllmlib.Option
		if k := entry.Options["api_key"]; k != "" {
			opts = append(opts, anyllmlib.WithAPIKey(k))
		}
		if u := entry.Options["base_url"]; u != "" {
			opts = append(opts, anyllmlib.WithBaseURL(u))
		}
		return anyllm.New(entry.Options["provider"], entry.Options["model"], opts...)
	})

	// ── Synthesizers ────────────────────────────────────────────────────────

	reg.RegisterSynthesizer("mock", func(config.AdapterEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})

	reg.RegisterSynthesizer("elevenlabs", func(entry config.AdapterEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if m := entry.Options["model"]; m != "" {
			opts = append(opts, elevenlabs.WithModel(m))
		}
		if v := entry.Options["voice_id_hi"]; v != "" {
			opts = append(opts, elevenlabs.WithLanguageVoice(dialog.LanguageHI, v))
		}
		return elevenlabs.New(entry.Options["api_key"], entry.Options["voice_id"], opts...)
	})

	reg.RegisterSynthesizer("coqui", func(entry config.AdapterEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if m := entry.Options["api_mode"]; m != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(m)))
		}
		if s := entry.Options["speaker"]; s != "" {
			opts = append(opts, coqui.WithSpeaker(s))
		}
		return coqui.New(entry.Options["url"], opts...)
	})

	reg.RegisterSynthesizer("openai", func(entry config.AdapterEntry) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if m := entry.Options["model"]; m != "" {
			opts = append(opts, ttsopenai.WithModel(m))
		}
		if v := entry.Options["voice"]; v != "" {
			opts = append(opts, ttsopenai.WithVoice(v))
		}
		return ttsopenai.New(entry.Options["api_key"], opts...)
	})

	// ── Fleet data ──────────────────────────────────────────────────────────

	reg.RegisterData("mock", func(config.AdapterEntry) (fleet.Provider, error) {
		return &fleetmock.Provider{}, nil
	})

	reg.RegisterData("static", func(config.AdapterEntry) (fleet.Provider, error) {
		return static.New(), nil
	})

	reg.RegisterData("mcp", func(entry config.AdapterEntry) (fleet.Provider, error) {
		mcpCfg := fleetmcp.Config{
			Transport: fleetmcp.Transport(entry.Options["transport"]),
			Command:   entry.Options["command"],
			URL:       entry.Options["url"],
		}
		if mcpCfg.Transport == "" {
			if mcpCfg.URL != "" {
				mcpCfg.Transport = fleetmcp.TransportStreamableHTTP
			} else {
				mcpCfg.Transport = fleetmcp.TransportStdio
			}
		}
		return fleetmcp.New(ctx, mcpCfg)
	})

	// ── Handoff channels ────────────────────────────────────────────────────

	reg.RegisterHandoff("mock", func(config.AdapterEntry) (handoff.Provider, error) {
		return &handoffmock.Provider{}, nil
	})

	reg.RegisterHandoff("log", func(config.AdapterEntry) (handoff.Provider, error) {
		return hlog.New(), nil
	})

	reg.RegisterHandoff("webhook", func(entry config.AdapterEntry) (handoff.Provider, error) {
		var opts []webhook.Option
		if tok := entry.Options["bearer_token"]; tok != "" {
			opts = append(opts, webhook.WithBearerToken(tok))
		}
		return webhook.New(entry.Options["endpoint"], opts...)
	})

	reg.RegisterHandoff("discord", func(entry config.AdapterEntry) (handoff.Provider, error) {
		return hdiscord.New(entry.Options["token"], entry.Options["channel_id"])
	})

	// ── Session stores ──────────────────────────────────────────────────────

	memoryFactory := func(sc config.SessionStoreConfig) (session.Store, error) {
		return memory.New(memory.WithRetention(sc.RetentionDuration(config.DefaultRetention))), nil
	}
	reg.RegisterStore("memory", memoryFactory)
	reg.RegisterStore("mock", memoryFactory)

	reg.RegisterStore("redis", func(sc config.SessionStoreConfig) (session.Store, error) {
		addr := sc.Options["addr"]
		if addr == "" {
			addr = "localhost:6379"
		}
		db := 0
		if v := sc.Options["db"]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("redis: db %q: %w", v, err)
			}
			db = n
		}
		client := goredis.NewClient(&goredis.Options{
			Addr:     addr,
			Password: sc.Options["password"],
			DB:       db,
		})
		opts := []redisstore.Option{redisstore.WithTTL(sc.RetentionDuration(config.DefaultRetention))}
		if p := sc.Options["prefix"]; p != "" {
			opts = append(opts, redisstore.WithPrefix(p))
		}
		return redisstore.New(client, opts...), nil
	})

	reg.RegisterStore("postgres", func(sc config.SessionStoreConfig) (session.Store, error) {
		return postgresstore.New(ctx, sc.Options["dsn"])
	})

	// ── Embedders ───────────────────────────────────────────────────────────

	reg.RegisterEmbedder("mock", func(config.AdapterEntry) (embed.Provider, error) {
		return &embedmock.Provider{}, nil
	})

	reg.RegisterEmbedder("openai", func(entry config.AdapterEntry) (embed.Provider, error) {
		var opts []embedopenai.Option
		if m := entry.Options["model"]; m != "" {
			opts = append(opts, embedopenai.WithModel(m))
		}
		if u := entry.Options["base_url"]; u != "" {
			opts = append(opts, embedopenai.WithBaseURL(u))
		}
		return embedopenai.New(entry.Options["api_key"], opts...)
	})

	// Debug log of all registered adapters.
	for kind, names := range config.ValidAdapterNames {
		for _, name := range names {
			slog.Debug("registered adapter", "kind", string(kind), "name", name)
		}
	}
}

// buildAdapters instantiates every adapter named in cfg using the registry
// and returns them in an [app.Adapters] struct. For the recognizer,
// understander, and synthesizer slots, a second or later entry of the same
// kind joins a circuit-broken fallback chain behind the first.
func buildAdapters(cfg *config.Config, reg *config.Registry) (*app.Adapters, error) {
	ad := &app.Adapters{}

	// ── Recognizer ──────────────────────────────────────────────────────────
	recEntries := cfg.ByKind(config.KindRecognizer)
	if len(recEntries) == 0 {
		return nil, errors.New("adapters: no recognizer configured")
	}
	rec, err := reg.CreateRecognizer(recEntries[0])
	if err != nil {
		return nil, fmt.Errorf("create recognizer %q: %w", recEntries[0].Name, err)
	}
	slog.Info("adapter created", "kind", "recognizer", "name", recEntries[0].Name)
	if rest := recEntries[1:]; len(rest) > 0 {
		chain := resilience.NewASRFallback(rec, recEntries[0].Name, resilience.FallbackConfig{})
		for _, e := range rest {
			p, err := reg.CreateRecognizer(e)
			if err != nil {
				return nil, fmt.Errorf("create recognizer fallback %q: %w", e.Name, err)
			}
			chain.AddFallback(e.Name, p)
			slog.Info("fallback chained", "kind", "recognizer", "name", e.Name)
		}
		ad.Recognizer = chain
	} else {
		ad.Recognizer = rec
	}

	// ── Understander ────────────────────────────────────────────────────────
	nluEntries := cfg.ByKind(config.KindUnderstander)
	if len(nluEntries) == 0 {
		return nil, errors.New("adapters: no understander configured")
	}
	und, err := reg.CreateUnderstander(nluEntries[0])
	if err != nil {
		return nil, fmt.Errorf("create understander %q: %w", nluEntries[0].Name, err)
	}
	slog.Info("adapter created", "kind", "understander", "name", nluEntries[0].Name)
	if rest := nluEntries[1:]; len(rest) > 0 {
		chain := resilience.NewNLUFallback(und, nluEntries[0].Name, resilience.FallbackConfig{})
		for _, e := range rest {
			p, err := reg.CreateUnderstander(e)
			if err != nil {
				return nil, fmt.Errorf("create understander fallback %q: %w", e.Name, err)
			}
			chain.AddFallback(e.Name, p)
			slog.Info("fallback chained", "kind", "understander", "name", e.Name)
		}
		ad.Understander = chain
	} else {
		ad.Understander = und
	}

	// ── Synthesizer ─────────────────────────────────────────────────────────
	ttsEntries := cfg.ByKind(config.KindSynthesizer)
	if len(ttsEntries) == 0 {
		return nil, errors.New("adapters: no synthesizer configured")
	}
	syn, err := reg.CreateSynthesizer(ttsEntries[0])
	if err != nil {
		return nil, fmt.Errorf("create synthesizer %q: %w", ttsEntries[0].Name, err)
	}
	slog.Info("adapter created", "kind", "synthesizer", "name", ttsEntries[0].Name)
	if rest := ttsEntries[1:]; len(rest) > 0 {
		chain := resilience.NewTTSFallback(syn, ttsEntries[0].Name, resilience.FallbackConfig{})
		for _, e := range rest {
			p, err := reg.CreateSynthesizer(e)
			if err != nil {
				return nil, fmt.Errorf("create synthesizer fallback %q: %w", e.Name, err)
			}
			chain.AddFallback(e.Name, p)
			slog.Info("fallback chained", "kind", "synthesizer", "name", e.Name)
		}
		ad.Synthesizer = chain
	} else {
		ad.Synthesizer = syn
	}

	// ── Fleet data ──────────────────────────────────────────────────────────
	dataEntries := cfg.ByKind(config.KindData)
	if len(dataEntries) == 0 {
		return nil, errors.New("adapters: no data adapter configured")
	}
	if len(dataEntries) > 1 {
		slog.Warn("multiple data adapters configured; only the first is used", "using", dataEntries[0].Name)
	}
	data, err := reg.CreateData(dataEntries[0])
	if err != nil {
		return nil, fmt.Errorf("create data adapter %q: %w", dataEntries[0].Name, err)
	}
	ad.Data = data
	slog.Info("adapter created", "kind", "data", "name", dataEntries[0].Name)

	// ── Handoff ─────────────────────────────────────────────────────────────
	hoEntries := cfg.ByKind(config.KindHandoff)
	if len(hoEntries) == 0 {
		return nil, errors.New("adapters: no handoff adapter configured")
	}
	if len(hoEntries) > 1 {
		slog.Warn("multiple handoff adapters configured; only the first is used", "using", hoEntries[0].Name)
	}
	ho, err := reg.CreateHandoff(hoEntries[0])
	if err != nil {
		return nil, fmt.Errorf("create handoff adapter %q: %w", hoEntries[0].Name, err)
	}
	ad.Handoff = ho
	slog.Info("adapter created", "kind", "handoff", "name", hoEntries[0].Name)

	// ── Session store ───────────────────────────────────────────────────────
	store, err := reg.CreateStore(cfg.SessionStore)
	if err != nil {
		return nil, fmt.Errorf("create session store %q: %w", cfg.SessionStore.Name, err)
	}
	ad.Store = store
	slog.Info("adapter created", "kind", "store", "name", cfg.SessionStore.Name)

	// ── Embedder (knowledge base only) ──────────────────────────────────────
	if cfg.Knowledge.Enabled {
		entry := config.AdapterEntry{
			Kind:    config.KindEmbedder,
			Name:    cfg.Knowledge.Embedder,
			Options: cfg.Knowledge.Options,
		}
		emb, err := reg.CreateEmbedder(entry)
		if err != nil {
			return nil, fmt.Errorf("create embedder %q: %w", entry.Name, err)
		}
		ad.Embedder = emb
		slog.Info("adapter created", "kind", "embedder", "name", entry.Name)
	}

	return ad, nil
}

// ── Startup summary ─────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║    voiceagent — startup summary        ║")
	fmt.Println("╠════════════════════════════════════════╣")
	printRow("recognizer", adapterNames(cfg, config.KindRecognizer))
	printRow("understander", adapterNames(cfg, config.KindUnderstander))
	printRow("synthesizer", adapterNames(cfg, config.KindSynthesizer))
	printRow("data", adapterNames(cfg, config.KindData))
	printRow("handoff", adapterNames(cfg, config.KindHandoff))
	printRow("session store", cfg.SessionStore.Name)
	if cfg.Knowledge.Enabled {
		printRow("knowledge", "enabled / "+cfg.Knowledge.Embedder)
	} else {
		printRow("knowledge", "(disabled)")
	}
	if cfg.Audit.Path != "" {
		printRow("audit", cfg.Audit.Path)
	} else {
		printRow("audit", "(disabled)")
	}
	printRow("listen addr", cfg.Server.Addr())
	fmt.Println("╚════════════════════════════════════════╝")
}

// adapterNames joins the configured names of one kind; entries past the
// first are the fallback chain.
func adapterNames(cfg *config.Config, kind config.AdapterKind) string {
	entries := cfg.ByKind(kind)
	if len(entries) == 0 {
		return "(not configured)"
	}
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.Name
	}
	return strings.Join(parts, " → ")
}

func printRow(label, value string) {
	if len(value) > 20 {
		value = value[:17] + "…"
	}
	fmt.Printf("║  %-14s : %-20s ║\n", label, value)
}

// ── Logger ──────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The returned LevelVar is handed to the
// app so configuration reloads can raise or lower verbosity live.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(level.Level())
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}
