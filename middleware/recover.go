package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/datanika-io/datanika-core/bridge"
)

// Recover returns middleware that converts handler panics into errors so a
// panicking extract or transform engine fails its run instead of killing
// the worker goroutine.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, t *bridge.Task, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("task handler panicked",
					slog.String("task_id", t.ID.String()),
					slog.String("target", t.Target.String()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic executing %s: %v", t.Target, r)
			}
		}()
		return next(ctx)
	}
}
