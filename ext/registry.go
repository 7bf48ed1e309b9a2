package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/signal"
	"github.com/xraph/stepflow/task"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	taskSubmitted  []entry[TaskSubmitted]
	stepCompleted  []entry[StepCompleted]
	taskWaiting    []entry[TaskWaiting]
	taskFinished   []entry[TaskFinished]
	taskFailed     []entry[TaskFailed]
	signalResolved []entry[SignalResolved]
	cronFired      []entry[CronFired]
	shutdown       []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(TaskSubmitted); ok {
		r.taskSubmitted = append(r.taskSubmitted, entry[TaskSubmitted]{name, h})
	}
	if h, ok := e.(StepCompleted); ok {
		r.stepCompleted = append(r.stepCompleted, entry[StepCompleted]{name, h})
	}
	if h, ok := e.(TaskWaiting); ok {
		r.taskWaiting = append(r.taskWaiting, entry[TaskWaiting]{name, h})
	}
	if h, ok := e.(TaskFinished); ok {
		r.taskFinished = append(r.taskFinished, entry[TaskFinished]{name, h})
	}
	if h, ok := e.(TaskFailed); ok {
		r.taskFailed = append(r.taskFailed, entry[TaskFailed]{name, h})
	}
	if h, ok := e.(SignalResolved); ok {
		r.signalResolved = append(r.signalResolved, entry[SignalResolved]{name, h})
	}
	if h, ok := e.(CronFired); ok {
		r.cronFired = append(r.cronFired, entry[CronFired]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitTaskSubmitted notifies all extensions that implement TaskSubmitted.
func (r *Registry) EmitTaskSubmitted(ctx context.Context, t *task.Task) {
	emit(r, "OnTaskSubmitted", r.taskSubmitted, func(h TaskSubmitted) error {
		return h.OnTaskSubmitted(ctx, t)
	})
}

// EmitStepCompleted notifies all extensions that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, t *task.Task, from, outcome string, elapsed time.Duration) {
	emit(r, "OnStepCompleted", r.stepCompleted, func(h StepCompleted) error {
		return h.OnStepCompleted(ctx, t, from, outcome, elapsed)
	})
}

// EmitTaskWaiting notifies all extensions that implement TaskWaiting.
func (r *Registry) EmitTaskWaiting(ctx context.Context, t *task.Task, until time.Time) {
	emit(r, "OnTaskWaiting", r.taskWaiting, func(h TaskWaiting) error {
		return h.OnTaskWaiting(ctx, t, until)
	})
}

// EmitTaskFinished notifies all extensions that implement TaskFinished.
func (r *Registry) EmitTaskFinished(ctx context.Context, t *task.Task) {
	emit(r, "OnTaskFinished", r.taskFinished, func(h TaskFinished) error {
		return h.OnTaskFinished(ctx, t)
	})
}

// EmitTaskFailed notifies all extensions that implement TaskFailed.
func (r *Registry) EmitTaskFailed(ctx context.Context, t *task.Task, taskErr error) {
	emit(r, "OnTaskFailed", r.taskFailed, func(h TaskFailed) error {
		return h.OnTaskFailed(ctx, t, taskErr)
	})
}

// EmitSignalResolved notifies all extensions that implement SignalResolved.
func (r *Registry) EmitSignalResolved(ctx context.Context, cb *signal.Callback) {
	emit(r, "OnSignalResolved", r.signalResolved, func(h SignalResolved) error {
		return h.OnSignalResolved(ctx, cb)
	})
}

// EmitCronFired notifies all extensions that implement CronFired.
func (r *Registry) EmitCronFired(ctx context.Context, entryName string, taskID id.TaskID) {
	emit(r, "OnCronFired", r.cronFired, func(h CronFired) error {
		return h.OnCronFired(ctx, entryName, taskID)
	})
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(r, "OnShutdown", r.shutdown, func(h Shutdown) error {
		return h.OnShutdown(ctx)
	})
}

func emit[H any](r *Registry, hook string, entries []entry[H], call func(H) error) {
	for _, e := range entries {
		if err := call(e.hook); err != nil {
			r.logHookError(hook, e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not block scheduling.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
