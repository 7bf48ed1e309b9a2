package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/stepflow/task"
)

// TimeoutFunc returns the step deadline for a task. Zero means none.
type TimeoutFunc func(t *task.Task) time.Duration

// Timeout returns middleware that enforces a per-step deadline. When the
// deadline is exceeded the context is cancelled and entry actions that
// honour it return context.DeadlineExceeded.
func Timeout(logger *slog.Logger, timeoutOf TimeoutFunc) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		if d := timeoutOf(t); d > 0 {
			logger.Debug("step timeout set",
				slog.String("task_id", t.ID.String()),
				slog.Duration("timeout", d),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}

// TypeTimeouts resolves step deadlines from the task types in reg.
func TypeTimeouts(reg *task.Registry) TimeoutFunc {
	return func(t *task.Task) time.Duration {
		typ, ok := reg.Get(t.Type)
		if !ok {
			return 0
		}
		return typ.Opts.Timeout
	}
}
