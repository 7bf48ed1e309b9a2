package observability

import (
	"context"
	"time"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/xraph/stepflow/ext"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/signal"
	"github.com/xraph/stepflow/task"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.TaskSubmitted  = (*MetricsExtension)(nil)
	_ ext.StepCompleted  = (*MetricsExtension)(nil)
	_ ext.TaskWaiting    = (*MetricsExtension)(nil)
	_ ext.TaskFinished   = (*MetricsExtension)(nil)
	_ ext.TaskFailed     = (*MetricsExtension)(nil)
	_ ext.SignalResolved = (*MetricsExtension)(nil)
	_ ext.CronFired      = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via go-utils
// MetricFactory.
type MetricsExtension struct {
	TaskSubmitted  gu.Counter
	StepCompleted  gu.Counter
	TaskWaiting    gu.Counter
	TaskCompleted  gu.Counter
	TaskTerminated gu.Counter
	TaskFailed     gu.Counter
	SignalResolved gu.Counter
	CronFired      gu.Counter
}

// NewMetricsExtension creates a MetricsExtension using a default metrics collector.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithFactory(gu.NewMetricsCollector("stepflow/observability"))
}

// NewMetricsExtensionWithFactory creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtensionWithFactory(factory gu.MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		TaskSubmitted:  factory.Counter("stepflow.task.submitted"),
		StepCompleted:  factory.Counter("stepflow.step.completed"),
		TaskWaiting:    factory.Counter("stepflow.task.waiting"),
		TaskCompleted:  factory.Counter("stepflow.task.completed"),
		TaskTerminated: factory.Counter("stepflow.task.terminated"),
		TaskFailed:     factory.Counter("stepflow.task.failed"),
		SignalResolved: factory.Counter("stepflow.signal.resolved"),
		CronFired:      factory.Counter("stepflow.cron.fired"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Task lifecycle hooks ────────────────────────────

// OnTaskSubmitted implements ext.TaskSubmitted.
func (m *MetricsExtension) OnTaskSubmitted(_ context.Context, _ *task.Task) error {
	m.TaskSubmitted.Inc()
	return nil
}

// OnStepCompleted implements ext.StepCompleted.
func (m *MetricsExtension) OnStepCompleted(_ context.Context, _ *task.Task, _, _ string, _ time.Duration) error {
	m.StepCompleted.Inc()
	return nil
}

// OnTaskWaiting implements ext.TaskWaiting.
func (m *MetricsExtension) OnTaskWaiting(_ context.Context, _ *task.Task, _ time.Time) error {
	m.TaskWaiting.Inc()
	return nil
}

// OnTaskFinished implements ext.TaskFinished. Completed and terminated
// tasks are counted separately.
func (m *MetricsExtension) OnTaskFinished(_ context.Context, t *task.Task) error {
	if t.ExitStatus == task.ExitTerminated {
		m.TaskTerminated.Inc()
	} else {
		m.TaskCompleted.Inc()
	}
	return nil
}

// OnTaskFailed implements ext.TaskFailed.
func (m *MetricsExtension) OnTaskFailed(_ context.Context, _ *task.Task, _ error) error {
	m.TaskFailed.Inc()
	return nil
}

// ── Signal and cron hooks ───────────────────────────

// OnSignalResolved implements ext.SignalResolved.
func (m *MetricsExtension) OnSignalResolved(_ context.Context, _ *signal.Callback) error {
	m.SignalResolved.Inc()
	return nil
}

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(_ context.Context, _ string, _ id.TaskID) error {
	m.CronFired.Inc()
	return nil
}
