package ext

import (
	"context"
	"time"

	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/signal"
	"github.com/xraph/stepflow/task"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// TaskSubmitted is called after a task is persisted.
type TaskSubmitted interface {
	OnTaskSubmitted(ctx context.Context, t *task.Task) error
}

// StepCompleted is called after every persisted step.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, t *task.Task, from, outcome string, elapsed time.Duration) error
}

// TaskWaiting is called when a step parks a task.
type TaskWaiting interface {
	OnTaskWaiting(ctx context.Context, t *task.Task, until time.Time) error
}

// TaskFinished is called when a task completes or is terminated.
type TaskFinished interface {
	OnTaskFinished(ctx context.Context, t *task.Task) error
}

// TaskFailed is called when a task ends with error-user or error-system.
type TaskFailed interface {
	OnTaskFailed(ctx context.Context, t *task.Task, err error) error
}

// SignalResolved is called when a signal callback resolves.
type SignalResolved interface {
	OnSignalResolved(ctx context.Context, cb *signal.Callback) error
}

// CronFired is called when a cron entry fires and submits a task.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string, taskID id.TaskID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
