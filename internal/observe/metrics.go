// Package observe provides application-wide observability primitives for
// talkie: OpenTelemetry metrics, tracing, trace-aware logging and the HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] and served by [Handler]. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/talkie/pkg/audio"
)

// meterName is the instrumentation scope name used for all talkie metrics.
const meterName = "github.com/MrWong99/talkie"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use. Recording on the audio callback
// paths only touches counters, which do not block.
type Metrics struct {
	// --- Audio I/O ---

	// CaptureFrames counts hardware capture deliveries. Use with attribute:
	//   attribute.Bool("retained", ...)
	CaptureFrames metric.Int64Counter

	// CaptureOverflows counts capture deliveries flagged with a driver
	// status. Use with attribute: attribute.String("status", ...)
	CaptureOverflows metric.Int64Counter

	// CaptureDroppedSamples counts samples evicted from the bounded streaming
	// capture queue because the sender fell behind.
	CaptureDroppedSamples metric.Int64Counter

	// PlaybackUnderruns counts dry spells of the playback queue while a
	// response was still streaming.
	PlaybackUnderruns metric.Int64Counter

	// PlaybackFlushes counts playback interruptions.
	PlaybackFlushes metric.Int64Counter

	// --- Latency histograms ---

	// TurnDuration tracks the time from end of utterance to end of response.
	// Use with attribute: attribute.String("mode", ...)
	TurnDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech time to first audio.
	TTSDuration metric.Float64Histogram

	// ToolExecutionDuration tracks MCP tool execution latency.
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// LLMTokens counts tokens reported by LLM providers. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("type", "prompt"|"completion")
	LLMTokens metric.Int64Counter

	// PipelineErrors counts failed turns and sessions. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("stage", ...)
	PipelineErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks open pipeline sessions (0 or 1 per process).
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.CaptureFrames, "talkie.capture.frames", "Capture callback deliveries by whether the frame was retained."},
		{&met.CaptureOverflows, "talkie.capture.overflows", "Capture deliveries flagged with a driver overflow or underflow."},
		{&met.CaptureDroppedSamples, "talkie.capture.dropped_samples", "Samples evicted from the streaming capture queue."},
		{&met.PlaybackUnderruns, "talkie.playback.underruns", "Playback queue dry spells during a streaming response."},
		{&met.PlaybackFlushes, "talkie.playback.flushes", "Playback interruptions by a new utterance."},
		{&met.ProviderRequests, "talkie.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.ToolCalls, "talkie.tool.calls", "Total tool invocations by tool name and status."},
		{&met.LLMTokens, "talkie.llm.tokens", "Tokens consumed by LLM completions by provider and type."},
		{&met.PipelineErrors, "talkie.pipeline.errors", "Failed pipeline turns and sessions by mode and stage."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.TurnDuration, "talkie.turn.duration", "Time from end of utterance to end of response."},
		{&met.STTDuration, "talkie.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "talkie.llm.duration", "Latency of LLM completion."},
		{&met.TTSDuration, "talkie.tts.duration", "Text-to-speech time to first audio."},
		{&met.ToolExecutionDuration, "talkie.tool_execution.duration", "Latency of MCP tool execution."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("talkie.active_sessions",
		metric.WithDescription("Number of open pipeline sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("talkie.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCaptureFrame counts one capture delivery. It is called from the
// hardware callback, so it uses a background context.
func (m *Metrics) RecordCaptureFrame(retained bool, status audio.CaptureStatus) {
	ctx := context.Background()
	m.CaptureFrames.Add(ctx, 1, metric.WithAttributes(attribute.Bool("retained", retained)))
	if status.Err() {
		m.CaptureOverflows.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status.String())))
	}
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordToolCall records a tool call counter increment with the standard
// attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordLLMTokens adds the prompt and completion tokens of one completion.
func (m *Metrics) RecordLLMTokens(ctx context.Context, provider string, prompt, completion int) {
	m.LLMTokens.Add(ctx, int64(prompt), metric.WithAttributes(
		attribute.String("provider", provider), attribute.String("type", "prompt")))
	m.LLMTokens.Add(ctx, int64(completion), metric.WithAttributes(
		attribute.String("provider", provider), attribute.String("type", "completion")))
}

// RecordPipelineError records a failed turn or session.
func (m *Metrics) RecordPipelineError(ctx context.Context, mode, stage string) {
	m.PipelineErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("stage", stage),
		),
	)
}
