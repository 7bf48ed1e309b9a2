package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	mw "github.com/xraph/stepflow/middleware"
)

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
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

func TestMetricsRecordsDuration(t *testing.T) {
	t.Parallel()

	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))
	_ = m(context.Background(), newTestTask(), func(context.Context) error { return nil })

	metric := findMetric(collectMetrics(t, reader), "stepflow.step.duration")
	if metric == nil {
		t.Fatal("stepflow.step.duration metric not found")
	}
	hist, ok := metric.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected Histogram[float64], got %T", metric.Data)
	}
	if len(hist.DataPoints) != 1 || hist.DataPoints[0].Count != 1 {
		t.Errorf("data points = %+v", hist.DataPoints)
	}
}

func TestMetricsExecutionsByStatus(t *testing.T) {
	t.Parallel()

	reader, mp := setupTestMeter()
	m := mw.MetricsWithMeter(mp.Meter("test"))
	tk := newTestTask()

	_ = m(context.Background(), tk, func(context.Context) error { return nil })
	_ = m(context.Background(), tk, func(context.Context) error { return nil })
	_ = m(context.Background(), tk, func(context.Context) error { return errors.New("x") })

	metric := findMetric(collectMetrics(t, reader), "stepflow.step.executions")
	if metric == nil {
		t.Fatal("stepflow.step.executions metric not found")
	}
	sum, ok := metric.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("expected Sum[int64], got %T", metric.Data)
	}

	got := map[string]int64{}
	for _, dp := range sum.DataPoints {
		status, _ := dp.Attributes.Value("status")
		got[status.AsString()] = dp.Value

		for key, want := range map[attribute.Key]string{"task_type": "provision", "state": "boot", "group": "infra"} {
			if v, _ := dp.Attributes.Value(key); v.AsString() != want {
				t.Errorf("attribute %s = %q, want %q", key, v.AsString(), want)
			}
		}
	}
	if got["ok"] != 2 || got["error"] != 1 {
		t.Errorf("executions by status = %v, want ok=2 error=1", got)
	}
}

func TestMetricsDefaultNoopSafe(t *testing.T) {
	t.Parallel()

	if err := mw.Metrics()(context.Background(), newTestTask(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
