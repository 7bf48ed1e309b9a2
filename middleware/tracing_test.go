package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	mw "github.com/xraph/stepflow/middleware"
)

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

func TestTracingCreatesSpan(t *testing.T) {
	t.Parallel()

	sr, tracer := setupTestTracer()
	tk := newTestTask()

	if err := mw.TracingWithTracer(tracer)(context.Background(), tk, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "stepflow.task.step" {
		t.Errorf("span name = %q", span.Name())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", span.Status().Code)
	}

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	want := map[attribute.Key]string{
		"stepflow.task.id":   tk.ID.String(),
		"stepflow.task.type": "provision",
		"stepflow.state":     "boot",
		"stepflow.phase":     "started",
		"stepflow.group":     "infra",
	}
	for k, v := range want {
		if got := attrs[k].AsString(); got != v {
			t.Errorf("attribute %s = %q, want %q", k, got, v)
		}
	}
	if got := attrs["stepflow.steps"].AsInt64(); got != 3 {
		t.Errorf("attribute stepflow.steps = %d, want 3", got)
	}
}

func TestTracingErrorStatus(t *testing.T) {
	t.Parallel()

	sr, tracer := setupTestTracer()
	boom := errors.New("boom")

	err := mw.TracingWithTracer(tracer)(context.Background(), newTestTask(), func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	span := sr.Ended()[0]
	if span.Status().Code != codes.Error || span.Status().Description != "boom" {
		t.Errorf("status = %+v", span.Status())
	}
	if len(span.Events()) == 0 {
		t.Error("error not recorded as a span event")
	}
}

func TestTracingPropagatesContext(t *testing.T) {
	t.Parallel()

	_, tracer := setupTestTracer()
	_ = mw.TracingWithTracer(tracer)(context.Background(), newTestTask(), func(ctx context.Context) error {
		if !trace.SpanFromContext(ctx).SpanContext().IsValid() {
			t.Error("handler context carries no span")
		}
		return nil
	})
}

func TestTracingDefaultNoopSafe(t *testing.T) {
	t.Parallel()

	if err := mw.Tracing()(context.Background(), newTestTask(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
