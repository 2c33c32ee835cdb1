// Package server exposes the assistant over HTTP and WebSocket: a JSON chat
// endpoint for the driver app, a one-shot voice endpoint, and the carrier
// telephony webhook with its companion media stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/HeckSmart/multilingual-voiceagent/internal/health"
	"github.com/HeckSmart/multilingual-voiceagent/internal/observe"
	"github.com/HeckSmart/multilingual-voiceagent/internal/orchestrator"
	"github.com/HeckSmart/multilingual-voiceagent/internal/turnloop"
	"github.com/HeckSmart/multilingual-voiceagent/pkg/dialog"
)

// Server routes driver-app and carrier traffic onto the dialogue engine.
// Build one with New and mount Handler on an [http.Server].
type Server struct {
	orc   *orchestrator.Orchestrator
	pipe  *turnloop.Pipeline
	calls *turnloop.Manager

	probes      *health.Handler
	metricsH    http.Handler
	log         *slog.Logger
	metrics     *observe.Metrics
	streamURL   string
	defaultLang dialog.Language
}

// Option configures a Server.
type Option func(*Server)

// WithHealth mounts the given probe handler instead of an empty one.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) {
		if h != nil {
			s.probes = h
		}
	}
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsH = h }
}

// WithLogger replaces the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics replaces the process-wide metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithStreamURL sets the absolute wss:// URL the telephony webhook points
// calls at. When empty the webhook derives one from the request host.
func WithStreamURL(u string) Option {
	return func(s *Server) { s.streamURL = u }
}

// WithDefaultLanguage sets the language used when a request names none.
func WithDefaultLanguage(lang dialog.Language) Option {
	return func(s *Server) {
		if lang != "" {
			s.defaultLang = lang
		}
	}
}

// New builds the transport layer over an assembled dialogue stack.
func New(orc *orchestrator.Orchestrator, pipe *turnloop.Pipeline, calls *turnloop.Manager, opts ...Option) (*Server, error) {
	if orc == nil {
		return nil, errors.New("server: orchestrator must not be nil")
	}
	if pipe == nil {
		return nil, errors.New("server: pipeline must not be nil")
	}
	if calls == nil {
		return nil, errors.New("server: call manager must not be nil")
	}

	s := &Server{
		orc:         orc,
		pipe:        pipe,
		calls:       calls,
		probes:      health.New(),
		log:         slog.Default(),
		metrics:     observe.DefaultMetrics(),
		defaultLang: dialog.LanguageEN,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler assembles the route table, wrapped in the request logging and
// metrics middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /voice/process", s.handleVoice)
	mux.HandleFunc("POST /telephony/voice", s.handleTelephonyCall)
	mux.HandleFunc("GET /telephony/media-stream-ws", s.handleMediaStream)
	s.probes.Register(mux)
	if s.metricsH != nil {
		mux.Handle("GET /metrics", s.metricsH)
	}
	return observe.Middleware(s.metrics)(mux)
}

// language resolves a request's language field; an empty field keeps the
// configured default so mid-conversation requests do not flip the session.
func (s *Server) language(field string) dialog.Language {
	if field == "" {
		return s.defaultLang
	}
	return dialog.ParseLanguage(field)
}

// errorBody is the JSON error envelope shared by every endpoint.
type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", slog.String("error", err.Error()))
	}
}

// writeTurnError maps a dialogue error to an HTTP status and returns the
// outcome label recorded on the turn metric.
func (s *Server) writeTurnError(ctx context.Context, w http.ResponseWriter, err error) string {
	switch {
	case errors.Is(err, dialog.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: err.Error()})
		return "invalid"
	case errors.Is(err, dialog.ErrSessionTerminal):
		writeJSON(w, http.StatusConflict, errorBody{Detail: "conversation has already ended"})
		return "terminal"
	default:
		s.log.ErrorContext(ctx, "turn failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "internal error"})
		return "error"
	}
}
