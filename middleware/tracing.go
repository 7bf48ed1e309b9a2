package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/stepflow/task"
)

// tracerName is the instrumentation scope name for stepflow tracing.
const tracerName = "github.com/xraph/stepflow"

// Tracing returns middleware that wraps each step in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is
// used and this middleware becomes a pass-through.
//
// Span attributes: stepflow.task.id, stepflow.task.type, stepflow.state,
// stepflow.phase, stepflow.group, stepflow.steps.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		ctx, span := tracer.Start(ctx, "stepflow.task.step",
			trace.WithAttributes(
				attribute.String("stepflow.task.id", t.ID.String()),
				attribute.String("stepflow.task.type", t.Type),
				attribute.String("stepflow.state", t.State),
				attribute.String("stepflow.phase", string(t.Phase)),
				attribute.String("stepflow.group", t.Group),
				attribute.Int("stepflow.steps", t.Steps),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
