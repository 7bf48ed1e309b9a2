package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/stepflow/task"
)

// meterName is the instrumentation scope name for stepflow metrics.
const meterName = "github.com/xraph/stepflow"

// Metrics returns middleware that records per-step metrics using the
// global OTel MeterProvider.
//
// Instruments:
//   - stepflow.step.duration (Float64Histogram): step time in seconds
//   - stepflow.step.executions (Int64Counter): steps run
//
// Both carry task_type, state, group and status ("ok" or "error").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"stepflow.step.duration",
		metric.WithDescription("Duration of task steps in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"stepflow.step.executions",
		metric.WithDescription("Total number of task steps"),
		metric.WithUnit("{step}"),
	)

	return func(ctx context.Context, t *task.Task, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("task_type", t.Type),
			attribute.String("state", t.State),
			attribute.String("group", t.Group),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)

		return err
	}
}
