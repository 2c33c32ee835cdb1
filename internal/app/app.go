// Package app wires the voice agent's subsystems together: session store,
// dialogue orchestrator, turn pipeline, call manager, knowledge base, audit
// trail, and the HTTP transport. It owns startup order and graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/HeckSmart/multilingual-voiceagent/internal/audit"
	"github.com/HeckSmart/multilingual-voiceagent/internal/config"
	"github.com/HeckSmart/multilingual-voiceagent/internal/health"
	"github.com/HeckSmart/multilingual-voiceagent/internal/kb"
	"github.com/HeckSmart/multilingual-voiceagent/internal/observe"
	"github.com/HeckSmart/multilingual-voiceagent/internal/orchestrator"
	"github.com/HeckSmart/multilingual-voiceagent/internal/resilience"
	"github.com/HeckSmart/multilingual-voiceagent/internal/server"
	"github.com/HeckSmart/multilingual-voiceagent/internal/turnloop"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/asr"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/embed"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/fleet"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/handoff"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/nlu"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/adapter/tts"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/session"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/vad"
)

// httpShutdownTimeout bounds the drain of in-flight HTTP requests when Run
// winds down.
const httpShutdownTimeout = 10 * time.Second

// Adapters carries one implementation per pipeline slot. main constructs
// them from configuration via [config.Registry]; tests inject doubles
// directly. [New] takes ownership of Store and closes it on shutdown.
type Adapters struct {
	// Recognizer turns caller audio into text.
	Recognizer asr.Provider

	// Understander extracts intent, entities, language, and sentiment.
	Understander nlu.Provider

	// Synthesizer renders replies as audio.
	Synthesizer tts.Provider

	// Data answers fleet lookups: swaps, subscriptions, invoices.
	Data fleet.Provider

	// Handoff dispatches escalations to human agents.
	Handoff handoff.Provider

	// Store persists conversation state between turns.
	Store session.Store

	// Embedder computes article and query vectors. Only required when the
	// knowledge base is enabled.
	Embedder embed.Provider
}

func (ad *Adapters) validate(cfg *config.Config) error {
	var missing []string
	if ad.Recognizer == nil {
		missing = append(missing, "recognizer")
	}
	if ad.Understander == nil {
		missing = append(missing, "understander")
	}
	if ad.Synthesizer == nil {
		missing = append(missing, "synthesizer")
	}
	if ad.Data == nil {
		missing = append(missing, "data")
	}
	if ad.Handoff == nil {
		missing = append(missing, "handoff")
	}
	if ad.Store == nil {
		missing = append(missing, "session store")
	}
	if len(missing) > 0 {
		return fmt.Errorf("app: missing adapters: %s", strings.Join(missing, ", "))
	}
	if cfg.Knowledge.Enabled && ad.Embedder == nil {
		return errors.New("app: knowledge base is enabled but no embedder was configured")
	}
	return nil
}

// App is the assembled voice agent. Create one with [New], serve with
// [App.Run], and release resources with [App.Shutdown].
type App struct {
	cfg      *config.Config
	adapters *Adapters
	log      *slog.Logger
	level    *slog.LevelVar

	watchPath string
	watchOpts []config.WatcherOption

	orc     *orchestrator.Orchestrator
	pipe    *turnloop.Pipeline
	calls   *turnloop.Manager
	httpSrv *http.Server

	tracker      *resilience.Tracker
	metrics      *observe.Metrics
	otelShutdown func(context.Context) error

	closers  []func() error
	stopOnce sync.Once
}

// Option customises [New].
type Option func(*App)

// WithLogger sets the logger used by the app and every subsystem it builds.
// Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithLogLevel hands the app the level handle backing the process logger so
// a hot-reloaded server.log_level takes effect without a restart.
func WithLogLevel(lvl *slog.LevelVar) Option {
	return func(a *App) { a.level = lvl }
}

// WithConfigReload watches path while the app runs and hot-applies the safe
// subset of changes: dialog, turn, vad, timeouts, and server.log_level.
// Anything else logs a warning that a restart is required.
func WithConfigReload(path string, opts ...config.WatcherOption) Option {
	return func(a *App) {
		a.watchPath = path
		a.watchOpts = opts
	}
}

// New wires the subsystems together without starting them; call [App.Run]
// to serve. On error nothing is left open.
func New(ctx context.Context, cfg *config.Config, adapters *Adapters, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if adapters == nil {
		return nil, errors.New("app: adapters must not be nil")
	}
	if err := adapters.validate(cfg); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, adapters: adapters, log: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}

	ok := false
	defer func() {
		if !ok {
			_ = a.closeAll(context.Background())
		}
	}()

	// ── 1. Telemetry ──
	if err := a.initTelemetry(ctx); err != nil {
		return nil, err
	}

	// ── 2. Session store ──
	a.closers = append(a.closers, func() error {
		if err := adapters.Store.Close(); err != nil {
			return fmt.Errorf("close session store: %w", err)
		}
		return nil
	})

	// ── 3. Dialogue orchestrator ──
	if err := a.initOrchestrator(ctx); err != nil {
		return nil, err
	}

	// ── 4. Turn pipeline and call manager ──
	if err := a.initTurnLoop(); err != nil {
		return nil, err
	}

	// ── 5. HTTP transport ──
	if err := a.initServer(); err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

// initTelemetry installs the OTel providers. The Prometheus bridge registers
// collectors with the process-global registry, so it is only set up when the
// /metrics endpoint is wanted; otherwise the no-op global provider serves
// every instrument call.
func (a *App) initTelemetry(ctx context.Context) error {
	if !a.cfg.Server.Metrics {
		a.metrics = observe.DefaultMetrics()
		return nil
	}

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voiceagent"})
	if err != nil {
		return fmt.Errorf("app: init telemetry: %w", err)
	}
	a.otelShutdown = shutdown

	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("app: create instruments: %w", err)
	}
	a.metrics = m
	return nil
}

func (a *App) initOrchestrator(ctx context.Context) error {
	a.tracker = resilience.NewTracker(resilience.WithTrackerLogger(a.log))

	opts := []orchestrator.Option{
		orchestrator.WithConfig(dialogPolicy(a.cfg)),
		orchestrator.WithTimeouts(orchestratorTimeouts(a.cfg)),
		orchestrator.WithLogger(a.log),
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithFailureObserver(a.tracker),
	}

	if a.cfg.PromptsFile != "" {
		prompts, err := orchestrator.LoadPrompts(a.cfg.PromptsFile)
		if err != nil {
			return fmt.Errorf("app: load prompts: %w", err)
		}
		opts = append(opts, orchestrator.WithPrompts(prompts))
	}

	if a.cfg.Audit.Path != "" {
		auditLog, err := audit.Open(a.cfg.Audit.Path)
		if err != nil {
			return fmt.Errorf("app: open audit log: %w", err)
		}
		a.closers = append(a.closers, func() error {
			if err := auditLog.Close(); err != nil {
				return fmt.Errorf("close audit log: %w", err)
			}
			return nil
		})
		opts = append(opts, orchestrator.WithEscalationRecorder(auditLog))
	}

	if a.cfg.Knowledge.Enabled {
		kbOpts := []kb.Option{kb.WithLogger(a.log)}
		if a.cfg.Knowledge.TopK > 0 {
			kbOpts = append(kbOpts, kb.WithTopK(a.cfg.Knowledge.TopK))
		}
		idx, err := kb.Open(ctx, a.cfg.Knowledge.DSN, a.adapters.Embedder, kbOpts...)
		if err != nil {
			return fmt.Errorf("app: open knowledge base: %w", err)
		}
		a.closers = append(a.closers, func() error {
			idx.Close()
			return nil
		})
		opts = append(opts, orchestrator.WithKnowledge(idx))
	}

	orc, err := orchestrator.New(a.adapters.Store, a.adapters.Understander, a.adapters.Data, a.adapters.Handoff, opts...)
	if err != nil {
		return fmt.Errorf("app: create orchestrator: %w", err)
	}
	a.orc = orc
	return nil
}

func (a *App) initTurnLoop() error {
	pipeOpts := []turnloop.PipelineOption{
		turnloop.WithTimeouts(pipelineTimeouts(a.cfg)),
		turnloop.WithLogger(a.log),
		turnloop.WithMetrics(a.metrics),
		turnloop.WithFailureObserver(a.tracker),
	}
	// A hand-built Config may carry a zero VAD block; keep the pipeline's
	// calibrated defaults in that case.
	if a.cfg.VAD != (vad.Config{}) {
		pipeOpts = append(pipeOpts, turnloop.WithVAD(a.cfg.VAD))
	}

	pipe, err := turnloop.NewPipeline(a.orc, a.adapters.Recognizer, a.adapters.Synthesizer, pipeOpts...)
	if err != nil {
		return fmt.Errorf("app: create pipeline: %w", err)
	}
	a.pipe = pipe

	calls, err := turnloop.NewManager(pipe, turnloop.WithDefaults(controllerDefaults(a.cfg)))
	if err != nil {
		return fmt.Errorf("app: create call manager: %w", err)
	}
	a.calls = calls
	return nil
}

func (a *App) initServer() error {
	srvOpts := []server.Option{
		server.WithHealth(health.New(a.healthCheckers()...)),
		server.WithLogger(a.log),
		server.WithMetrics(a.metrics),
		server.WithDefaultLanguage(dialog.ParseLanguage(a.cfg.Dialog.DefaultLanguage)),
	}
	if a.cfg.Server.Metrics {
		srvOpts = append(srvOpts, server.WithMetricsHandler(promhttp.Handler()))
	}

	srv, err := server.New(a.orc, a.pipe, a.calls, srvOpts...)
	if err != nil {
		return fmt.Errorf("app: create server: %w", err)
	}

	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// healthCheckers builds the readiness probes. Only hard dependencies gate
// readiness: a degraded speech or understanding adapter still serves retry
// and apology turns, so pulling the instance from rotation would not help.
func (a *App) healthCheckers() []health.Checker {
	store := a.adapters.Store
	return []health.Checker{
		{Name: "session_store", Check: func(ctx context.Context) error {
			if p, ok := store.(interface {
				Ping(context.Context) error
			}); ok {
				return p.Ping(ctx)
			}
			return nil
		}},
	}
}

// Handler exposes the routed HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.httpSrv.Handler
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests and
// stops live calls. When [WithConfigReload] is set it also watches the
// configuration file. The returned error is [context.Canceled] after a clean
// signal-driven stop.
func (a *App) Run(ctx context.Context) error {
	var watcher *config.Watcher
	if a.watchPath != "" {
		w, err := config.NewWatcher(a.watchPath, a.applyConfig, a.watchOpts...)
		if err != nil {
			// The file loaded at startup, so this is transient; run
			// without hot-reload rather than failing the boot.
			a.log.Warn("config reload disabled", "path", a.watchPath, "err", err)
		} else {
			watcher = w
			a.log.Info("config reload enabled", "path", a.watchPath)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("http server listening", "addr", a.httpSrv.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		if watcher != nil {
			watcher.Stop()
		}

		sctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := a.httpSrv.Shutdown(sctx); err != nil {
			a.log.Warn("http drain incomplete, closing", "err", err)
			_ = a.httpSrv.Close()
		}

		a.calls.StopAll()
		return ctx.Err()
	})

	return g.Wait()
}

// applyConfig is the watcher callback. It hot-applies the tunable subset and
// warns when a change needs a restart to take effect.
func (a *App) applyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		a.log.Info("log level changed", "level", string(d.NewLogLevel))
	}
	if d.DialogChanged || d.TimeoutsChanged {
		a.orc.SetPolicy(dialogPolicy(new), orchestratorTimeouts(new))
	}
	if d.VADChanged || d.TimeoutsChanged {
		a.pipe.SetTuning(new.VAD, pipelineTimeouts(new))
	}
	if d.TurnChanged || d.DialogChanged {
		a.calls.SetDefaults(controllerDefaults(new))
	}

	if d.HotApplicable() {
		a.log.Info("configuration hot-applied",
			"dialog", d.DialogChanged,
			"turn", d.TurnChanged,
			"vad", d.VADChanged,
			"timeouts", d.TimeoutsChanged,
		)
	}
	if d.RestartRequired {
		a.log.Warn("configuration changes to adapters, stores, or the server need a restart")
	}
}

// Shutdown releases every resource acquired by [New], in acquisition order.
// Safe to call more than once. It respects ctx: when the deadline passes,
// remaining closers are skipped and the deadline error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() { err = a.closeAll(ctx) })
	return err
}

func (a *App) closeAll(ctx context.Context) error {
	var firstErr error
	for _, fn := range a.closers {
		if err := ctx.Err(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			break
		}
		if err := fn(); err != nil {
			a.log.Warn("shutdown step failed", "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.log.Warn("telemetry shutdown failed", "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// dialogPolicy translates the YAML dialog block into orchestrator tuning.
// Zero fields keep the orchestrator's built-in defaults.
func dialogPolicy(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		ConfidenceThreshold: cfg.Dialog.ConfidenceThreshold,
		MaxRetry:            cfg.Dialog.MaxRetry,
		MaxNoResponse:       cfg.Dialog.MaxNoResponse,
		AgentTriggers:       cfg.Dialog.AgentTriggers,
	}
}

func orchestratorTimeouts(cfg *config.Config) orchestrator.Timeouts {
	return orchestrator.Timeouts{
		Understand: cfg.Timeouts.Understand(),
		Data:       cfg.Timeouts.Data(),
		Handoff:    cfg.Timeouts.Handoff(),
	}
}

func pipelineTimeouts(cfg *config.Config) turnloop.Timeouts {
	return turnloop.Timeouts{
		Recognize:  cfg.Timeouts.Recognize(),
		Synthesize: cfg.Timeouts.Synthesize(),
	}
}

// controllerDefaults translates the turn block into per-call loop defaults.
func controllerDefaults(cfg *config.Config) turnloop.Config {
	return turnloop.Config{
		Language:              dialog.ParseLanguage(cfg.Dialog.DefaultLanguage),
		SilenceWindow:         cfg.Turn.SilenceWindow(),
		EndOfUtteranceSilence: cfg.Turn.EndOfUtteranceSilence(),
		MaxUtterance:          cfg.Turn.MaxUtterance(),
		Backpressure:          turnloop.Backpressure(cfg.Turn.Backpressure),
		QueueLength:           cfg.Turn.QueueLimit,
	}
}
