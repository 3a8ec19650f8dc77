package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDisabledTracerIsNoop(t *testing.T) {
	p, err := InitTracer(context.Background(), Config{ServiceName: "exitshim"})
	if err != nil {
		t.Fatal(err)
	}
	_, span := p.StartSpan(context.Background(), "iteration")
	if span.SpanContext().IsValid() {
		t.Error("disabled tracer produced a recording span")
	}
	span.End()
	if err := p.Shutdown(context.Background()); err != nil {
		t.Error(err)
	}
}

func TestSpansAreRecorded(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	p := NewProvider(sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter)), "exitshim")

	_, span := p.StartSpan(context.Background(), "iteration", attribute.Int("status", 2))
	SetError(span, errors.New("crash"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "iteration" || spans[0].Status.Code != codes.Error {
		t.Errorf("unexpected span %+v", spans[0])
	}
}
