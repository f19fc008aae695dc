package middleware

import (
	"context"
	"time"

	"github.com/datanika-io/datanika-core/bridge"
)

// Timeout returns middleware that bounds every task execution with a
// deadline. Zero disables the bound.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *bridge.Task, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
