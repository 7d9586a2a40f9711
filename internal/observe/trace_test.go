package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer provider as the global one for the
// duration of the test. Tests using it must not run in parallel.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestTraceID_EmptyWithoutSpan(t *testing.T) {
	t.Parallel()
	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID = %q, want empty", got)
	}
}

func TestStartSpan_RecordsOnGlobalProvider(t *testing.T) {
	exp := useTracer(t)

	ctx, span := StartSpan(context.Background(), "cascade.turn")
	id := TraceID(ctx)
	span.End()

	if len(id) != 32 {
		t.Errorf("trace ID %q, want 32 hex characters", id)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "cascade.turn" {
		t.Fatalf("spans = %+v", spans)
	}
	if got := spans[0].SpanContext.TraceID().String(); got != id {
		t.Errorf("exported trace ID = %s, want %s", got, id)
	}
}

func TestFail(t *testing.T) {
	exp := useTracer(t)

	_, ok := StartSpan(context.Background(), "ok")
	Fail(ok, nil)
	ok.End()

	_, failed := StartSpan(context.Background(), "failed")
	Fail(failed, errors.New("transcribe: 503"))
	failed.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Status.Code != codes.Unset || len(spans[0].Events) != 0 {
		t.Errorf("nil error changed the span: %+v", spans[0].Status)
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "transcribe: 503" {
		t.Errorf("status = %+v, want error", spans[1].Status)
	}
	if len(spans[1].Events) != 1 || spans[1].Events[0].Name != "exception" {
		t.Errorf("events = %+v, want one exception", spans[1].Events)
	}
}

func TestLogger(t *testing.T) {
	useTracer(t)
	buf := captureLogs(t)

	Logger(context.Background()).Info("no span")
	ctx, span := StartSpan(context.Background(), "session.turn")
	Logger(ctx).Info("in span")
	span.End()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d log lines, want 2", len(lines))
	}
	if strings.Contains(lines[0], "trace_id") {
		t.Errorf("line without span carries a trace ID: %s", lines[0])
	}
	if !strings.Contains(lines[1], "trace_id="+TraceID(ctx)) || !strings.Contains(lines[1], "span_id=") {
		t.Errorf("line in span lacks trace context: %s", lines[1])
	}
}
