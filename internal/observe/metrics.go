// Package observe holds the voice agent's observability layer: the OTel
// metric instruments, the tracer and trace-aware logger, and the HTTP
// middleware that wires both into every request.
//
// Instruments are created through the OpenTelemetry Metrics API and exported
// to Prometheus via the bridge that [InitProvider] installs, so operators
// scrape the usual /metrics endpoint. Production code records through the
// shared [DefaultMetrics] instance; tests build their own [Metrics] against
// an sdkmetric provider with a manual reader so recorded values can be
// asserted without global state.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope under which every voice agent
// instrument is registered.
const meterName = "github.com/HeckSmart/multilingual-voiceagent"

// Metrics bundles the agent's metric instruments. The zero value is not
// usable; construct via [NewMetrics] or [DefaultMetrics]. Instruments are
// concurrency-safe, so a single Metrics can be shared across goroutines.
type Metrics struct {
	// --- Latency histograms ---

	// TurnDuration tracks end-to-end turn processing latency. Use with attributes:
	//   attribute.String("channel", ...), attribute.String("outcome", ...)
	TurnDuration metric.Float64Histogram

	// AdapterDuration tracks individual adapter call latency. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("name", ...), attribute.String("outcome", ...)
	AdapterDuration metric.Float64Histogram

	// --- Counters ---

	// AdapterErrors counts adapter call failures. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("name", ...), attribute.String("class", ...)
	AdapterErrors metric.Int64Counter

	// Escalations counts conversations handed off to a human agent. Use with
	// attribute: attribute.String("reason", ...)
	Escalations metric.Int64Counter

	// VADDecisions counts voice-activity decisions. Use with attribute:
	//   attribute.String("result", "speech"|"silence")
	VADDecisions metric.Int64Counter

	// DroppedChunks counts audio chunks discarded under backpressure.
	DroppedChunks metric.Int64Counter

	// ProactivePrompts counts silence re-engagement prompts spoken. Use with
	// attribute: attribute.String("language", ...)
	ProactivePrompts metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions counts conversations currently in progress. Incremented
	// on session create, decremented on end or expiry.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration is recorded by [Middleware] for every request, with
	// method and path attributes.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are the histogram boundaries (seconds) for the pipeline
// histograms. Sub-second buckets dominate because a spoken reply past ~2 s
// already feels broken to a driver on a call.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates every instrument on a meter obtained from mp. An error
// from instrument creation aborts the whole construction.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	// Histograms.
	if met.TurnDuration, err = meter.Float64Histogram("voiceagent.turn.duration",
		metric.WithDescription("End-to-end turn latency by channel and outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AdapterDuration, err = meter.Float64Histogram("voiceagent.adapter.duration",
		metric.WithDescription("Adapter call latency by kind, name, and outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AdapterErrors, err = meter.Int64Counter("voiceagent.adapter.errors",
		metric.WithDescription("Total adapter failures by kind, name, and error class."),
	); err != nil {
		return nil, err
	}
	if met.Escalations, err = meter.Int64Counter("voiceagent.escalations",
		metric.WithDescription("Total escalations to a human agent by reason."),
	); err != nil {
		return nil, err
	}
	if met.VADDecisions, err = meter.Int64Counter("voiceagent.vad.decisions",
		metric.WithDescription("Total voice-activity decisions by result."),
	); err != nil {
		return nil, err
	}
	if met.DroppedChunks, err = meter.Int64Counter("voiceagent.audio.dropped_chunks",
		metric.WithDescription("Total audio chunks dropped under backpressure."),
	); err != nil {
		return nil, err
	}
	if met.ProactivePrompts, err = meter.Int64Counter("voiceagent.prompts.proactive",
		metric.WithDescription("Total proactive silence prompts by language."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = meter.Int64UpDownCounter("voiceagent.sessions.active",
		metric.WithDescription("Number of live conversations."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = meter.Float64Histogram("voiceagent.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// DefaultMetrics returns the process-wide [Metrics], built on first use from
// [otel.GetMeterProvider]. It panics if instrument creation fails, which the
// global provider (no-op or SDK) never does.
var DefaultMetrics = sync.OnceValue(func() *Metrics {
	met, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		panic("observe: failed to create default metrics: " + err.Error())
	}
	return met
})

// Attr is shorthand for [attribute.String], the only attribute type the
// agent records.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTurn is a convenience method that records one completed turn with the
// standard attribute set.
func (m *Metrics) RecordTurn(ctx context.Context, channel, outcome string, seconds float64) {
	m.TurnDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("channel", channel),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordAdapterCall is a convenience method that records one adapter call
// duration with the standard attribute set.
func (m *Metrics) RecordAdapterCall(ctx context.Context, kind, name, outcome string, seconds float64) {
	m.AdapterDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("name", name),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordAdapterError is a convenience method that records an adapter failure
// counter increment.
func (m *Metrics) RecordAdapterError(ctx context.Context, kind, name, class string) {
	m.AdapterErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("name", name),
			attribute.String("class", class),
		),
	)
}

// RecordEscalation is a convenience method that records an escalation counter
// increment.
func (m *Metrics) RecordEscalation(ctx context.Context, reason string) {
	m.Escalations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordVADDecision is a convenience method that records a voice-activity
// decision counter increment.
func (m *Metrics) RecordVADDecision(ctx context.Context, result string) {
	m.VADDecisions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)),
	)
}

// RecordProactivePrompt is a convenience method that records a proactive
// prompt counter increment.
func (m *Metrics) RecordProactivePrompt(ctx context.Context, language string) {
	m.ProactivePrompts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("language", language)),
	)
}
