package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/stepflow/task"
)

// Logging returns middleware that logs step start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *task.Task, next Handler) error {
		logger.Debug("step started",
			slog.String("task_type", t.Type),
			slog.String("task_id", t.ID.String()),
			slog.String("state", t.State),
			slog.String("group", t.Group),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("step failed",
				slog.String("task_type", t.Type),
				slog.String("task_id", t.ID.String()),
				slog.String("state", t.State),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Debug("step completed",
				slog.String("task_type", t.Type),
				slog.String("task_id", t.ID.String()),
				slog.String("state", t.State),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
