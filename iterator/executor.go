package iterator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/middleware"
	"github.com/xraph/stepflow/task"
	"github.com/xraph/stepflow/transition"
)

// Signals is the signal service as seen by a step.
// signal.Service satisfies it.
type Signals interface {
	task.Signaler
	ReleaseTask(ctx context.Context, taskID id.TaskID) error
}

// Emitter receives task lifecycle events. ext.Registry satisfies it.
type Emitter interface {
	EmitTaskSubmitted(ctx context.Context, t *task.Task)
	EmitStepCompleted(ctx context.Context, t *task.Task, from, outcome string, elapsed time.Duration)
	EmitTaskWaiting(ctx context.Context, t *task.Task, until time.Time)
	EmitTaskFinished(ctx context.Context, t *task.Task)
	EmitTaskFailed(ctx context.Context, t *task.Task, err error)
}

type nopEmitter struct{}

func (nopEmitter) EmitTaskSubmitted(context.Context, *task.Task)                                 {}
func (nopEmitter) EmitStepCompleted(context.Context, *task.Task, string, string, time.Duration) {}
func (nopEmitter) EmitTaskWaiting(context.Context, *task.Task, time.Time)                      {}
func (nopEmitter) EmitTaskFinished(context.Context, *task.Task)                                  {}
func (nopEmitter) EmitTaskFailed(context.Context, *task.Task, error)                             {}

// Option configures an Executor.
type Option func(*Executor)

// WithSignals sets the signal service steps register callbacks with.
func WithSignals(s Signals) Option {
	return func(e *Executor) { e.signals = s }
}

// WithEmitter sets the lifecycle event target.
func WithEmitter(em Emitter) Option {
	return func(e *Executor) { e.emitter = em }
}

// WithMiddleware sets the middleware every step runs through.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithClock overrides the time source. Wait timers and timestamps use it.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// Executor runs single steps of tasks through middleware, then persists
// their results and emits lifecycle events.
type Executor struct {
	tasks     task.Store
	registry  *task.Registry
	evaluator *transition.Evaluator
	signals   Signals
	emitter   Emitter
	mw        middleware.Middleware
	logger    *slog.Logger
	now       func() time.Time
}

// NewExecutor creates an Executor over the task store and type registry.
func NewExecutor(tasks task.Store, registry *task.Registry, opts ...Option) *Executor {
	e := &Executor{
		tasks:    tasks,
		registry: registry,
		emitter:  nopEmitter{},
		mw:       middleware.Chain(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.evaluator = transition.NewEvaluator(e.logger)
	return e
}

// For returns an iterator over t. The iterator mutates t as it steps.
func (e *Executor) For(t *task.Task) *Iterator {
	return &Iterator{exec: e, task: t}
}

// Step loads the task, runs one step through the middleware chain and
// returns its report. The caller must hold the task's lock. Errors are
// infrastructure failures; the task record is left as it was before the
// step and the step may be retried.
func (e *Executor) Step(ctx context.Context, taskID id.TaskID) (Report, error) {
	t, err := e.tasks.GetTask(ctx, taskID)
	if err != nil {
		return Report{TaskID: taskID}, fmt.Errorf("iterator: load task %s: %w", taskID, err)
	}

	var rep Report
	err = e.mw(ctx, t, func(ctx context.Context) error {
		var stepErr error
		rep, stepErr = e.For(t).Step(ctx)
		return stepErr
	})
	if err != nil {
		e.logger.Error("step failed",
			slog.String("task_id", taskID.String()),
			slog.String("task_type", t.Type),
			slog.String("state", t.State),
			slog.String("error", err.Error()),
		)
		return rep, err
	}
	return rep, nil
}
