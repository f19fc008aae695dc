package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/bridge"
	"github.com/datanika-io/datanika-core/middleware"
	"github.com/datanika-io/datanika-core/run"
)

// Notifier receives terminal-run completions. *bridge.Bridge satisfies it.
type Notifier interface {
	NotifyCompletion(c bridge.Completion)
}

// Executor runs a single delivered task: it claims the run through the
// ledger's Start transition, invokes the registered handler through the
// middleware chain, records the terminal transition, and reports the
// completion toward the orchestrator.
type Executor struct {
	registry *Registry
	ledger   *run.Ledger
	queue    bridge.Queue
	notifier Notifier
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor. notifier may be nil.
func NewExecutor(
	registry *Registry,
	ledger *run.Ledger,
	queue bridge.Queue,
	notifier Notifier,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		ledger:   ledger,
		queue:    queue,
		notifier: notifier,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute processes one delivery end to end.
//
// Start is the de-duplication point for at-least-once delivery: when the
// run has already left PENDING (a redelivery, or a cancel that won the
// race) Execute reports core.ErrAlreadyHandled and does not re-execute.
// When the run's entity is concurrently RUNNING the task is requeued for a
// later attempt instead of being lost.
func (e *Executor) Execute(ctx context.Context, d *bridge.Delivery) error {
	t := d.Task

	r, err := e.ledger.Start(ctx, t.RunID)
	switch {
	case errors.Is(err, core.ErrInvalidTransition):
		e.logger.Info("task already handled, skipping",
			slog.String("task_id", t.ID.String()),
			slog.String("run_id", t.RunID.String()),
		)
		return core.ErrAlreadyHandled
	case errors.Is(err, core.ErrConcurrentRunRejected):
		if enqErr := e.queue.Enqueue(ctx, t); enqErr != nil {
			e.logger.Error("requeue after concurrency rejection failed",
				slog.String("task_id", t.ID.String()),
				slog.String("error", enqErr.Error()),
			)
		}
		return err
	case err != nil:
		return fmt.Errorf("worker: start run %s: %w", t.RunID, err)
	}

	handler, ok := e.registry.Get(t.Target.Kind)
	if !ok {
		return e.finishFailed(ctx, r, fmt.Sprintf("no handler registered for kind %q", t.Target.Kind), "")
	}

	var metrics run.Metrics
	execErr := e.mw(ctx, t, func(ctx context.Context) error {
		var handlerErr error
		metrics, handlerErr = handler(ctx, t.Target)
		return handlerErr
	})

	if execErr != nil {
		return e.finishFailed(ctx, r, execErr.Error(), metrics.Log)
	}
	return e.finishSuccess(ctx, r, metrics)
}

func (e *Executor) finishSuccess(ctx context.Context, r *run.Run, m run.Metrics) error {
	done, err := e.ledger.Complete(ctx, r.ID, m)
	if err != nil {
		// The run was cancelled mid-flight; its terminal state stands.
		e.logger.Warn("completion lost to a racing transition",
			slog.String("run_id", r.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	e.notify(done, "")
	return nil
}

func (e *Executor) finishFailed(ctx context.Context, r *run.Run, errMsg, log string) error {
	done, err := e.ledger.Fail(ctx, r.ID, errMsg, log)
	if err != nil {
		e.logger.Warn("failure record lost to a racing transition",
			slog.String("run_id", r.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	e.notify(done, errMsg)
	return errors.New(errMsg)
}

func (e *Executor) notify(r *run.Run, errMsg string) {
	if e.notifier == nil {
		return
	}
	e.notifier.NotifyCompletion(bridge.Completion{
		RunID:   r.ID,
		Target:  r.Target,
		GroupID: r.GroupID,
		Status:  r.Status,
		Error:   errMsg,
	})
}
