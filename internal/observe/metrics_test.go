package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/talkie/pkg/audio"
)

// newTestMetrics returns Metrics on a private provider and the reader to
// inspect it with.
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

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumOf adds up the data points of the int64 sum name whose attributes
// include every kv. Missing metrics count as zero.
func sumOf(t *testing.T, rm metricdata.ResourceMetrics, name string, kvs ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		return 0
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s is %T, not an int64 sum", name, met.Data)
	}
	var total int64
points:
	for _, dp := range sum.DataPoints {
		for _, kv := range kvs {
			if v, ok := dp.Attributes.Value(kv.Key); !ok || v != kv.Value {
				continue points
			}
		}
		total += dp.Value
	}
	return total
}

func TestMetrics_Counters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCaptureFrame(true, 0)
	m.RecordCaptureFrame(true, audio.StatusInputOverflow)
	m.RecordCaptureFrame(false, 0)
	m.RecordProviderRequest(ctx, "openai", "stt", "ok")
	m.RecordProviderRequest(ctx, "openai", "stt", "ok")
	m.RecordProviderRequest(ctx, "whisper", "stt", "error")
	m.RecordToolCall(ctx, "current_time", "ok")
	m.RecordToolCall(ctx, "google_search", "tool_error")
	m.RecordPipelineError(ctx, "batch", "stt")
	m.RecordPipelineError(ctx, "streaming", "receive")
	m.RecordPipelineError(ctx, "streaming", "receive")
	m.RecordLLMTokens(ctx, "openai", 120, 18)
	m.RecordLLMTokens(ctx, "openai", 80, 2)
	m.PlaybackUnderruns.Add(ctx, 3)
	m.PlaybackFlushes.Add(ctx, 1)
	m.CaptureDroppedSamples.Add(ctx, 480)

	rm := collect(t, reader)
	tests := []struct {
		name   string
		metric string
		kvs    []attribute.KeyValue
		want   int64
	}{
		{"retained frames", "talkie.capture.frames", []attribute.KeyValue{attribute.Bool("retained", true)}, 2},
		{"gated frames", "talkie.capture.frames", []attribute.KeyValue{attribute.Bool("retained", false)}, 1},
		{"overflows", "talkie.capture.overflows", []attribute.KeyValue{Attr("status", "input overflow")}, 1},
		{"ok stt requests", "talkie.provider.requests", []attribute.KeyValue{Attr("kind", "stt"), Attr("status", "ok")}, 2},
		{"failed whisper requests", "talkie.provider.requests", []attribute.KeyValue{Attr("provider", "whisper")}, 1},
		{"tool errors", "talkie.tool.calls", []attribute.KeyValue{Attr("status", "tool_error")}, 1},
		{"receive errors", "talkie.pipeline.errors", []attribute.KeyValue{Attr("stage", "receive")}, 2},
		{"prompt tokens", "talkie.llm.tokens", []attribute.KeyValue{Attr("type", "prompt")}, 200},
		{"completion tokens", "talkie.llm.tokens", []attribute.KeyValue{Attr("provider", "openai"), Attr("type", "completion")}, 20},
		{"underruns", "talkie.playback.underruns", nil, 3},
		{"flushes", "talkie.playback.flushes", nil, 1},
		{"dropped samples", "talkie.capture.dropped_samples", nil, 480},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sumOf(t, rm, tt.metric, tt.kvs...); got != tt.want {
				t.Errorf("%s = %d, want %d", tt.metric, got, tt.want)
			}
		})
	}
}

func TestMetrics_Histograms(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.TurnDuration.Record(ctx, 1.8)
	m.STTDuration.Record(ctx, 0.4)
	m.LLMDuration.Record(ctx, 0.9)
	m.LLMDuration.Record(ctx, 1.1)
	m.TTSDuration.Record(ctx, 0.2)
	m.ToolExecutionDuration.Record(ctx, 0.05)

	rm := collect(t, reader)
	for name, want := range map[string]uint64{
		"talkie.turn.duration":           1,
		"talkie.stt.duration":            1,
		"talkie.llm.duration":            2,
		"talkie.tts.duration":            1,
		"talkie.tool_execution.duration": 1,
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Errorf("%s not recorded", name)
			continue
		}
		hist, ok := met.Data.(metricdata.Histogram[float64])
		if !ok || len(hist.DataPoints) != 1 {
			t.Errorf("%s = %T with unexpected points", name, met.Data)
			continue
		}
		if got := hist.DataPoints[0].Count; got != want {
			t.Errorf("%s count = %d, want %d", name, got, want)
		}
		if b := hist.DataPoints[0].Bounds; len(b) != len(latencyBuckets) {
			t.Errorf("%s bounds = %v, want the latency buckets", name, b)
		}
	}
}

func TestMetrics_ActiveSessions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)
	m.ActiveSessions.Add(ctx, 1)

	if got := sumOf(t, collect(t, reader), "talkie.active_sessions"); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}

func TestHandler_ServesPrometheusFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want the text exposition format", ct)
	}
}
