// Package ext defines the extension system: hooks notified of run,
// dispatch, and schedule lifecycle events for logging, metrics, and other
// cross-cutting reactions. Each lifecycle hook is a separate interface so
// extensions opt in only to the events they care about.
package ext

import (
	"context"
	"time"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/bridge"
	"github.com/datanika-io/datanika-core/run"
	"github.com/datanika-io/datanika-core/schedule"
)

// Extension is the base interface all extensions implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// RunCreated is called after a run is recorded in PENDING state.
type RunCreated interface {
	OnRunCreated(ctx context.Context, r *run.Run) error
}

// RunStarted is called when a worker wins the Start transition.
type RunStarted interface {
	OnRunStarted(ctx context.Context, r *run.Run) error
}

// RunCompleted is called after a run reaches SUCCESS.
type RunCompleted interface {
	OnRunCompleted(ctx context.Context, r *run.Run, elapsed time.Duration) error
}

// RunFailed is called after a run reaches FAILED.
type RunFailed interface {
	OnRunFailed(ctx context.Context, r *run.Run, errMsg string) error
}

// RunCancelled is called after a run reaches CANCELLED, whether by an
// explicit cancel or a downstream skip.
type RunCancelled interface {
	OnRunCancelled(ctx context.Context, r *run.Run) error
}

// TaskDispatched is called after a task is enqueued on the transport.
type TaskDispatched interface {
	OnTaskDispatched(ctx context.Context, t *bridge.Task) error
}

// DispatchRejected is called when a dispatch is refused because the entity
// already has a RUNNING run.
type DispatchRejected interface {
	OnDispatchRejected(ctx context.Context, target core.EntityRef) error
}

// ScheduleFired is called after a due trigger fires its target.
type ScheduleFired interface {
	OnScheduleFired(ctx context.Context, t *schedule.Trigger) error
}

// Shutdown is called once during engine shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context)
}
