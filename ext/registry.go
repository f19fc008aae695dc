package ext

import (
	"context"
	"log/slog"
	"time"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/bridge"
	"github.com/datanika-io/datanika-core/run"
	"github.com/datanika-io/datanika-core/schedule"
)

// Entry types pair a hook with its extension name captured at registration,
// so emit paths never type-assert back to Extension.
type runCreatedEntry struct {
	name string
	hook RunCreated
}

type runStartedEntry struct {
	name string
	hook RunStarted
}

type runCompletedEntry struct {
	name string
	hook RunCompleted
}

type runFailedEntry struct {
	name string
	hook RunFailed
}

type runCancelledEntry struct {
	name string
	hook RunCancelled
}

type taskDispatchedEntry struct {
	name string
	hook TaskDispatched
}

type dispatchRejectedEntry struct {
	name string
	hook DispatchRejected
}

type scheduleFiredEntry struct {
	name string
	hook ScheduleFired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events to
// them. Hooks are type-cached at registration so emit calls iterate only
// over extensions that implement the relevant event. A hook error is
// logged, never propagated: extensions cannot affect orchestration.
//
// Registry satisfies run.Emitter and bridge.Emitter.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	runCreated       []runCreatedEntry
	runStarted       []runStartedEntry
	runCompleted     []runCompletedEntry
	runFailed        []runFailedEntry
	runCancelled     []runCancelledEntry
	taskDispatched   []taskDispatchedEntry
	dispatchRejected []dispatchRejectedEntry
	scheduleFired    []scheduleFiredEntry
	shutdown         []shutdownEntry
}

// NewRegistry creates an extension registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension, caching it into every hook it implements.
// Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(RunCreated); ok {
		r.runCreated = append(r.runCreated, runCreatedEntry{name, h})
	}
	if h, ok := e.(RunStarted); ok {
		r.runStarted = append(r.runStarted, runStartedEntry{name, h})
	}
	if h, ok := e.(RunCompleted); ok {
		r.runCompleted = append(r.runCompleted, runCompletedEntry{name, h})
	}
	if h, ok := e.(RunFailed); ok {
		r.runFailed = append(r.runFailed, runFailedEntry{name, h})
	}
	if h, ok := e.(RunCancelled); ok {
		r.runCancelled = append(r.runCancelled, runCancelledEntry{name, h})
	}
	if h, ok := e.(TaskDispatched); ok {
		r.taskDispatched = append(r.taskDispatched, taskDispatchedEntry{name, h})
	}
	if h, ok := e.(DispatchRejected); ok {
		r.dispatchRejected = append(r.dispatchRejected, dispatchRejectedEntry{name, h})
	}
	if h, ok := e.(ScheduleFired); ok {
		r.scheduleFired = append(r.scheduleFired, scheduleFiredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitRunCreated notifies all RunCreated hooks.
func (r *Registry) EmitRunCreated(ctx context.Context, rn *run.Run) {
	for _, e := range r.runCreated {
		if err := e.hook.OnRunCreated(ctx, rn); err != nil {
			r.logHookError("OnRunCreated", e.name, err)
		}
	}
}

// EmitRunStarted notifies all RunStarted hooks.
func (r *Registry) EmitRunStarted(ctx context.Context, rn *run.Run) {
	for _, e := range r.runStarted {
		if err := e.hook.OnRunStarted(ctx, rn); err != nil {
			r.logHookError("OnRunStarted", e.name, err)
		}
	}
}

// EmitRunCompleted notifies all RunCompleted hooks.
func (r *Registry) EmitRunCompleted(ctx context.Context, rn *run.Run, elapsed time.Duration) {
	for _, e := range r.runCompleted {
		if err := e.hook.OnRunCompleted(ctx, rn, elapsed); err != nil {
			r.logHookError("OnRunCompleted", e.name, err)
		}
	}
}

// EmitRunFailed notifies all RunFailed hooks.
func (r *Registry) EmitRunFailed(ctx context.Context, rn *run.Run, errMsg string) {
	for _, e := range r.runFailed {
		if err := e.hook.OnRunFailed(ctx, rn, errMsg); err != nil {
			r.logHookError("OnRunFailed", e.name, err)
		}
	}
}

// EmitRunCancelled notifies all RunCancelled hooks.
func (r *Registry) EmitRunCancelled(ctx context.Context, rn *run.Run) {
	for _, e := range r.runCancelled {
		if err := e.hook.OnRunCancelled(ctx, rn); err != nil {
			r.logHookError("OnRunCancelled", e.name, err)
		}
	}
}

// EmitTaskDispatched notifies all TaskDispatched hooks.
func (r *Registry) EmitTaskDispatched(ctx context.Context, t *bridge.Task) {
	for _, e := range r.taskDispatched {
		if err := e.hook.OnTaskDispatched(ctx, t); err != nil {
			r.logHookError("OnTaskDispatched", e.name, err)
		}
	}
}

// EmitDispatchRejected notifies all DispatchRejected hooks.
func (r *Registry) EmitDispatchRejected(ctx context.Context, target core.EntityRef) {
	for _, e := range r.dispatchRejected {
		if err := e.hook.OnDispatchRejected(ctx, target); err != nil {
			r.logHookError("OnDispatchRejected", e.name, err)
		}
	}
}

// EmitScheduleFired notifies all ScheduleFired hooks.
func (r *Registry) EmitScheduleFired(ctx context.Context, t *schedule.Trigger) {
	for _, e := range r.scheduleFired {
		if err := e.hook.OnScheduleFired(ctx, t); err != nil {
			r.logHookError("OnScheduleFired", e.name, err)
		}
	}
}

// EmitShutdown notifies all Shutdown hooks.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		e.hook.OnShutdown(ctx)
	}
}

func (r *Registry) logHookError(hook, extension string, err error) {
	r.logger.Error("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extension),
		slog.String("error", err.Error()),
	)
}
