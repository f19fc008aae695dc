package run

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/id"
)

// Emitter receives run lifecycle notifications. ext.Registry satisfies this
// interface; the indirection keeps the ledger free of a dependency on the
// extension system.
type Emitter interface {
	EmitRunCreated(ctx context.Context, r *Run)
	EmitRunStarted(ctx context.Context, r *Run)
	EmitRunCompleted(ctx context.Context, r *Run, elapsed time.Duration)
	EmitRunFailed(ctx context.Context, r *Run, errMsg string)
	EmitRunCancelled(ctx context.Context, r *Run)
}

// Ledger is the run ledger service. It owns run creation and exposes the
// only legal mutation path for run state.
type Ledger struct {
	store   Store
	emitter Emitter
	logger  *slog.Logger
}

// NewLedger creates a Ledger. emitter may be nil.
func NewLedger(store Store, emitter Emitter, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, emitter: emitter, logger: logger}
}

// CreateOpts carries the optional provenance of a new run.
type CreateOpts struct {
	GroupID    id.GroupID
	ScheduleID id.ScheduleID
}

// Create records a new PENDING run for target.
func (l *Ledger) Create(ctx context.Context, target core.EntityRef, opts CreateOpts) (*Run, error) {
	r := &Run{
		ID:         id.NewRunID(),
		Target:     target,
		Status:     StatusPending,
		GroupID:    opts.GroupID,
		ScheduleID: opts.ScheduleID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := l.store.CreateRun(ctx, r); err != nil {
		return nil, fmt.Errorf("run: create: %w", err)
	}

	if l.emitter != nil {
		l.emitter.EmitRunCreated(ctx, r)
	}
	l.logger.Debug("run created",
		slog.String("run_id", r.ID.String()),
		slog.String("target", target.String()),
	)
	return r, nil
}

// Start transitions the run PENDING→RUNNING. It is the de-duplication point
// for at-least-once delivery: a redelivered task whose run already left
// PENDING loses the compare-and-set and receives core.ErrInvalidTransition,
// and a run whose entity is already executing receives
// core.ErrConcurrentRunRejected.
func (l *Ledger) Start(ctx context.Context, runID id.RunID) (*Run, error) {
	r, err := l.store.StartRun(ctx, runID, time.Now().UTC())
	if err != nil {
		l.reportTransition(ctx, runID, "start", err)
		return nil, err
	}
	if l.emitter != nil {
		l.emitter.EmitRunStarted(ctx, r)
	}
	return r, nil
}

// Complete transitions the run RUNNING→SUCCESS and records the metrics.
func (l *Ledger) Complete(ctx context.Context, runID id.RunID, m Metrics) (*Run, error) {
	now := time.Now().UTC()
	r, err := l.store.CompleteRun(ctx, runID, now, m)
	if err != nil {
		l.reportTransition(ctx, runID, "complete", err)
		return nil, err
	}
	if l.emitter != nil {
		l.emitter.EmitRunCompleted(ctx, r, elapsed(r))
	}
	return r, nil
}

// Fail transitions the run to FAILED. Legal from RUNNING (execution error)
// and from PENDING (the dispatch itself could not be attempted).
func (l *Ledger) Fail(ctx context.Context, runID id.RunID, errMsg, log string) (*Run, error) {
	r, err := l.store.FailRun(ctx, runID, time.Now().UTC(), errMsg, log)
	if err != nil {
		l.reportTransition(ctx, runID, "fail", err)
		return nil, err
	}
	if l.emitter != nil {
		l.emitter.EmitRunFailed(ctx, r, errMsg)
	}
	return r, nil
}

// Cancel transitions the run to CANCELLED from PENDING or RUNNING.
// Best-effort for RUNNING work: side effects of in-flight execution are not
// rolled back.
func (l *Ledger) Cancel(ctx context.Context, runID id.RunID) (*Run, error) {
	r, err := l.store.CancelRun(ctx, runID, time.Now().UTC())
	if err != nil {
		l.reportTransition(ctx, runID, "cancel", err)
		return nil, err
	}
	if l.emitter != nil {
		l.emitter.EmitRunCancelled(ctx, r)
	}
	return r, nil
}

// Get retrieves a run by ID.
func (l *Ledger) Get(ctx context.Context, runID id.RunID) (*Run, error) {
	return l.store.GetRun(ctx, runID)
}

// List returns runs matching opts, newest first.
func (l *Ledger) List(ctx context.Context, opts ListOpts) ([]*Run, error) {
	return l.store.ListRuns(ctx, opts)
}

// HasRunning reports whether target has a RUNNING run.
func (l *Ledger) HasRunning(ctx context.Context, target core.EntityRef) (bool, error) {
	n, err := l.store.CountRunning(ctx, target)
	if err != nil {
		return false, fmt.Errorf("run: count running: %w", err)
	}
	return n > 0, nil
}

// LatestSuccess returns the most recent SUCCESS run for target.
func (l *Ledger) LatestSuccess(ctx context.Context, target core.EntityRef) (*Run, error) {
	return l.store.LatestSuccess(ctx, target)
}

// reportTransition logs rejected transitions. Invalid transitions are race
// or programming defects and must never pass silently.
func (l *Ledger) reportTransition(ctx context.Context, runID id.RunID, op string, err error) {
	l.logger.WarnContext(ctx, "run transition rejected",
		slog.String("run_id", runID.String()),
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}

func elapsed(r *Run) time.Duration {
	if r.StartedAt == nil || r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(*r.StartedAt)
}
