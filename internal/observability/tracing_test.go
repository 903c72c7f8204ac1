package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingProvider(sr *tracetest.SpanRecorder) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sr),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
}

func TestNewTracerNoEndpointIsNoop(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "conductor-test"})
	defer func() { _ = shutdown(context.Background()) }()

	if tracer == nil {
		t.Fatal("NewTracer() returned nil")
	}
	if tracer.tracer == nil {
		t.Error("tracer.tracer is nil")
	}
	if tracer.provider != nil {
		t.Error("expected no-op tracer to have a nil provider")
	}
}

func TestTracerStartReturnsSpan(t *testing.T) {
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "conductor-test"})
	defer func() { _ = shutdown(context.Background()) }()

	ctx, span := tracer.Start(context.Background(), "node.research")
	if span == nil {
		t.Fatal("Start() returned a nil span")
	}
	span.End()
	if ctx == nil {
		t.Fatal("Start() returned a nil context")
	}
}

func TestTracerRecordError(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	provider := newRecordingProvider(sr)
	defer func() { _ = provider.Shutdown(context.Background()) }()

	tracer := &Tracer{provider: nil, tracer: provider.Tracer("conductor-test")}
	_, span := tracer.Start(context.Background(), "tool.write_file")
	tracer.RecordError(span, errors.New("boom"))
	span.End()

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d ended spans, want 1", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("got span status %v, want codes.Error", spans[0].Status().Code)
	}
}

func TestTracerRecordErrorIgnoresNil(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	provider := newRecordingProvider(sr)
	defer func() { _ = provider.Shutdown(context.Background()) }()

	tracer := &Tracer{tracer: provider.Tracer("conductor-test")}
	_, span := tracer.Start(context.Background(), "node.responder")
	tracer.RecordError(span, nil)
	span.End()

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d ended spans, want 1", len(spans))
	}
	if spans[0].Status().Code == codes.Error {
		t.Error("expected span status to remain unset when err is nil")
	}
}

func TestTraceNodeDispatchSetsAttributes(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	provider := newRecordingProvider(sr)
	defer func() { _ = provider.Shutdown(context.Background()) }()

	tracer := &Tracer{tracer: provider.Tracer("conductor-test")}
	_, span := tracer.TraceNodeDispatch(context.Background(), "codesmith", "run-1")
	span.End()

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d ended spans, want 1", len(spans))
	}
	if spans[0].Name() != "node.codesmith" {
		t.Errorf("got span name %q, want node.codesmith", spans[0].Name())
	}
}

func TestGetTraceIDEmptyWithoutActiveSpan(t *testing.T) {
	if got := GetTraceID(context.Background()); got != "" {
		t.Errorf("got %q, want empty trace id without an active span", got)
	}
}
