package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/datanika-io/datanika-core/bridge"
)

// Logging returns middleware that logs task start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *bridge.Task, next Handler) error {
		logger.Info("task execution started",
			slog.String("task_id", t.ID.String()),
			slog.String("run_id", t.RunID.String()),
			slog.String("target", t.Target.String()),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("task execution failed",
				slog.String("task_id", t.ID.String()),
				slog.String("run_id", t.RunID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("task execution completed",
				slog.String("task_id", t.ID.String()),
				slog.String("run_id", t.RunID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}
		return err
	}
}
