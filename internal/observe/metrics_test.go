package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader so tests
// can collect and inspect recorded data points.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect drains the reader into a fresh ResourceMetrics.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	rm := metricdata.ResourceMetrics{}
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric returns the named metric from rm, or nil when it was never
// recorded.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i, met := range sm.Metrics {
			if met.Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// counterValue returns the value of the data point of the named int64 counter
// that carries the attribute key=val.
func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name, key, val string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not recorded", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q data is %T, want Sum[int64]", name, met.Data)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == val {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, val)
	return 0
}

// histogramCount returns the sample count of the named float64 histogram's
// first data point.
func histogramCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not recorded", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q data is %T, want Histogram[float64]", name, met.Data)
	}
	if len(hist.DataPoints) == 0 {
		t.Fatalf("metric %q has no data points", name)
	}
	return hist.DataPoints[0].Count
}

func TestRecordTurn_And_RecordAdapterCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "voice", "ok", 0.123)
	m.RecordTurn(ctx, "voice", "ok", 0.456)
	m.RecordAdapterCall(ctx, "nlu", "keyword", "ok", 0.01)
	m.RecordAdapterCall(ctx, "nlu", "keyword", "ok", 0.02)

	rm := collect(t, reader)
	if got := histogramCount(t, rm, "voiceagent.turn.duration"); got != 2 {
		t.Errorf("turn duration samples = %d, want 2", got)
	}
	if got := histogramCount(t, rm, "voiceagent.adapter.duration"); got != 2 {
		t.Errorf("adapter duration samples = %d, want 2", got)
	}
}

func TestRecordAdapterError_GroupsByClass(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAdapterError(ctx, "fleet", "static", "timeout")
	m.RecordAdapterError(ctx, "fleet", "static", "timeout")
	m.RecordAdapterError(ctx, "fleet", "static", "internal")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "voiceagent.adapter.errors", "class", "timeout"); got != 2 {
		t.Errorf("timeout errors = %d, want 2", got)
	}
	if got := counterValue(t, rm, "voiceagent.adapter.errors", "class", "internal"); got != 1 {
		t.Errorf("internal errors = %d, want 1", got)
	}
}

func TestRecordEscalation_GroupsByReason(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEscalation(ctx, "no response")
	m.RecordEscalation(ctx, "no response")
	m.RecordEscalation(ctx, "retries exhausted")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "voiceagent.escalations", "reason", "no response"); got != 2 {
		t.Errorf("no-response escalations = %d, want 2", got)
	}
	if got := counterValue(t, rm, "voiceagent.escalations", "reason", "retries exhausted"); got != 1 {
		t.Errorf("retries-exhausted escalations = %d, want 1", got)
	}
}

func TestRecordVADDecision_GroupsByResult(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordVADDecision(ctx, "speech")
	m.RecordVADDecision(ctx, "speech")
	m.RecordVADDecision(ctx, "silence")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "voiceagent.vad.decisions", "result", "speech"); got != 2 {
		t.Errorf("speech decisions = %d, want 2", got)
	}
	if got := counterValue(t, rm, "voiceagent.vad.decisions", "result", "silence"); got != 1 {
		t.Errorf("silence decisions = %d, want 1", got)
	}
}

func TestRecordProactivePrompt_GroupsByLanguage(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.RecordProactivePrompt(context.Background(), "hi")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "voiceagent.prompts.proactive", "language", "hi"); got != 1 {
		t.Errorf("hindi prompts = %d, want 1", got)
	}
}

func TestActiveSessions_UpDown(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "voiceagent.sessions.active")
	if met == nil {
		t.Fatal("metric not recorded")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric data is %T, want Sum[int64]", met.Data)
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("active sessions = %d, want 1 after +1 +1 -1", got)
	}
}

func TestHTTPRequestDuration_RecordsSample(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.HTTPRequestDuration.Record(context.Background(), 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	if got := histogramCount(t, rm, "voiceagent.http.request.duration"); got != 1 {
		t.Errorf("http duration samples = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
