// Package middleware provides composable middleware around task execution.
// Middleware wraps handler invocations synchronously: panic recovery,
// logging, timeouts, tracing.
package middleware

import (
	"context"

	"github.com/datanika-io/datanika-core/bridge"
)

// Handler is the terminal function that executes the task's entity.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic. It must call next to
// continue the chain unless short-circuiting on error.
type Middleware func(ctx context.Context, t *bridge.Task, next Handler) error

// Chain composes middleware into one. Application is right-to-left: the
// first middleware in the list is the outermost wrapper, so
// Chain(logging, recovery)(h) executes logging, then recovery, then h.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, t *bridge.Task, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			inner := h
			h = func(ctx context.Context) error {
				return mw(ctx, t, inner)
			}
		}
		return h(ctx)
	}
}
