package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/bridge"
	"github.com/datanika-io/datanika-core/graph"
	"github.com/datanika-io/datanika-core/id"
	"github.com/datanika-io/datanika-core/run"
	"github.com/datanika-io/datanika-core/schedule"
)

// Dispatcher hands PENDING runs to the execution backend. *bridge.Bridge
// satisfies this interface.
type Dispatcher interface {
	Dispatch(ctx context.Context, r *run.Run) (*bridge.Handle, error)
}

// Emitter receives trigger fire notifications. ext.Registry satisfies this
// interface.
type Emitter interface {
	EmitScheduleFired(ctx context.Context, t *schedule.Trigger)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEmitter sets the trigger lifecycle emitter.
func WithEmitter(e Emitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// WithGateAttempts bounds how many times an unmet upstream-freshness check
// is re-evaluated before the run is failed.
func WithGateAttempts(n int) Option {
	return func(o *Orchestrator) { o.gateAttempts = n }
}

// WithGateDelay sets the pause between upstream-freshness re-checks.
func WithGateDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.gateDelay = d }
}

// Orchestrator resolves triggers into runs and walks DAG groups to
// completion. Group progress is driven by completion events from the
// bridge, never by polling; all group state is re-derived from the ledger
// on every event, so a restart picks up where the previous process left off.
type Orchestrator struct {
	graph      *graph.Service
	ledger     *run.Ledger
	dispatcher Dispatcher
	emitter    Emitter
	logger     *slog.Logger

	gateAttempts int
	gateDelay    time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates an Orchestrator.
func New(g *graph.Service, ledger *run.Ledger, dispatcher Dispatcher, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		graph:        g,
		ledger:       ledger,
		dispatcher:   dispatcher,
		logger:       logger,
		gateAttempts: 3,
		gateDelay:    time.Minute,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ──────────────────────────────────────────────────
// Triggers
// ──────────────────────────────────────────────────

// TriggerEntity creates and dispatches a single run for ref.
//
// When the entity is already RUNNING the dispatch is rejected with
// core.ErrConcurrentRunRejected and the freshly created run is cancelled so
// it does not linger in PENDING. When the entity has upstream dependencies
// that have never succeeded, dispatch is deferred to a bounded background
// re-check instead of failing immediately.
func (o *Orchestrator) TriggerEntity(ctx context.Context, ref core.EntityRef, opts run.CreateOpts) (*run.Run, error) {
	if !ref.Kind.Valid() {
		return nil, fmt.Errorf("orchestrator: trigger %s: %w", ref, core.ErrInvalidTarget)
	}

	r, err := o.ledger.Create(ctx, ref, opts)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: trigger %s: %w", ref, err)
	}

	fresh, err := o.upstreamsFresh(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: trigger %s: %w", ref, err)
	}
	if !fresh {
		o.logger.Info("upstream dependencies not satisfied, deferring dispatch",
			slog.String("run_id", r.ID.String()),
			slog.String("target", ref.String()),
		)
		o.wg.Add(1)
		go o.gatedDispatch(r)
		return r, nil
	}

	if err := o.dispatch(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// TriggerGroup expands the downstream DAG closure of root, creates PENDING
// runs for every member under one group ID, and dispatches the members with
// no in-group upstream. The rest are released by completion events.
func (o *Orchestrator) TriggerGroup(ctx context.Context, root core.EntityRef, opts run.CreateOpts) (id.GroupID, []*run.Run, error) {
	if !root.Kind.Valid() {
		return id.ID{}, nil, fmt.Errorf("orchestrator: trigger group %s: %w", root, core.ErrInvalidTarget)
	}

	members, err := o.graph.TopologicalOrder(ctx, &root, graph.Downstream)
	if err != nil {
		return id.ID{}, nil, fmt.Errorf("orchestrator: trigger group %s: %w", root, err)
	}

	groupID := id.NewGroupID()
	opts.GroupID = groupID

	runs := make([]*run.Run, 0, len(members))
	byTarget := make(map[core.EntityRef]*run.Run, len(members))
	for _, member := range members {
		r, err := o.ledger.Create(ctx, member, opts)
		if err != nil {
			return id.ID{}, nil, fmt.Errorf("orchestrator: trigger group %s: %w", root, err)
		}
		runs = append(runs, r)
		byTarget[member] = r
	}

	// Dispatch the members with no upstream inside the group. Members
	// whose dispatch is rejected are skipped downstream like a failure,
	// so the group never deadlocks waiting for a run that will not start.
	for _, member := range members {
		ready, err := o.inGroupUpstreams(ctx, member, byTarget)
		if err != nil {
			return groupID, runs, fmt.Errorf("orchestrator: trigger group %s: %w", root, err)
		}
		if len(ready) != 0 {
			continue
		}
		if err := o.dispatch(ctx, byTarget[member]); err != nil {
			if errors.Is(err, core.ErrConcurrentRunRejected) {
				continue
			}
			return groupID, runs, err
		}
	}

	o.logger.Info("group triggered",
		slog.String("group_id", groupID.String()),
		slog.String("root", root.String()),
		slog.Int("members", len(members)),
	)
	return groupID, runs, nil
}

// FireSchedule is the schedule.FireFunc the scheduler invokes for each due
// trigger. Entity targets become a single run; group targets expand the
// root's DAG closure.
func (o *Orchestrator) FireSchedule(ctx context.Context, t *schedule.Trigger) error {
	opts := run.CreateOpts{ScheduleID: t.ScheduleID}

	var err error
	switch t.Target.Mode {
	case core.TargetEntity:
		_, err = o.TriggerEntity(ctx, t.Target.Ref, opts)
	case core.TargetGroup:
		_, _, err = o.TriggerGroup(ctx, t.Target.Ref, opts)
	default:
		err = fmt.Errorf("orchestrator: fire %s: %w", t.Key, core.ErrInvalidTarget)
	}
	if err != nil {
		// Overlap rejection is an expected skip, not a fire failure.
		if errors.Is(err, core.ErrConcurrentRunRejected) {
			return nil
		}
		return err
	}

	if o.emitter != nil {
		o.emitter.EmitScheduleFired(ctx, t)
	}
	return nil
}

// HasRunningTarget is the schedule.RunningFunc backing the scheduler's
// overlap fast-path.
func (o *Orchestrator) HasRunningTarget(ctx context.Context, t *schedule.Trigger) (bool, error) {
	return o.ledger.HasRunning(ctx, t.Target.Ref)
}

// ──────────────────────────────────────────────────
// Cancellation
// ──────────────────────────────────────────────────

// CancelRun cancels a single run. If the run belongs to a group, its
// undispatched downstream siblings are skipped to CANCELLED as well.
// Cancellation of RUNNING work is best-effort.
func (o *Orchestrator) CancelRun(ctx context.Context, runID id.RunID) error {
	r, err := o.ledger.Cancel(ctx, runID)
	if err != nil {
		return fmt.Errorf("orchestrator: cancel run %s: %w", runID, err)
	}
	if !r.GroupID.IsNil() {
		o.skipDownstream(ctx, r.Target, r.GroupID)
	}
	return nil
}

// CancelGroup cancels every non-terminal member run of a group.
func (o *Orchestrator) CancelGroup(ctx context.Context, groupID id.GroupID) error {
	runs, err := o.ledger.List(ctx, run.ListOpts{GroupID: groupID})
	if err != nil {
		return fmt.Errorf("orchestrator: cancel group %s: %w", groupID, err)
	}

	var errs []error
	for _, r := range runs {
		if r.Status.Terminal() {
			continue
		}
		if _, err := o.ledger.Cancel(ctx, r.ID); err != nil {
			// A worker may have raced the run to terminal; that is fine.
			if errors.Is(err, core.ErrInvalidTransition) {
				continue
			}
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("orchestrator: cancel group %s: %w", groupID, errors.Join(errs...))
	}

	o.logger.Info("group cancelled", slog.String("group_id", groupID.String()))
	return nil
}

// ──────────────────────────────────────────────────
// Completion loop
// ──────────────────────────────────────────────────

// Start launches the completion loop, which consumes the stream until Stop
// is called or the channel closes. The WaitGroup registration happens here,
// before the goroutine spawns, so a Stop racing a fresh Start always waits
// for the loop.
func (o *Orchestrator) Start(completions <-chan bridge.Completion) {
	o.wg.Add(1)
	go o.completionLoop(completions)
}

func (o *Orchestrator) completionLoop(completions <-chan bridge.Completion) {
	defer o.wg.Done()

	for {
		select {
		case <-o.stopCh:
			return
		case c, ok := <-completions:
			if !ok {
				return
			}
			o.handleCompletion(context.Background(), c)
		}
	}
}

// Stop signals the completion loop and any deferred dispatches to finish.
func (o *Orchestrator) Stop() {
	close(o.stopCh)
	o.wg.Wait()
}

// handleCompletion reacts to one terminal run transition. Success releases
// the group members that became ready; failure or cancellation skips the
// undispatched downstream members to CANCELLED.
func (o *Orchestrator) handleCompletion(ctx context.Context, c bridge.Completion) {
	if c.GroupID.IsNil() {
		return
	}

	switch c.Status {
	case run.StatusSuccess:
		o.releaseReady(ctx, c.Target, c.GroupID)
	case run.StatusFailed, run.StatusCancelled:
		o.skipDownstream(ctx, c.Target, c.GroupID)
	}
}

// releaseReady dispatches the PENDING group members directly downstream of
// target whose in-group upstreams have now all succeeded.
func (o *Orchestrator) releaseReady(ctx context.Context, target core.EntityRef, groupID id.GroupID) {
	byTarget, err := o.groupRuns(ctx, groupID)
	if err != nil {
		o.logger.Error("load group runs",
			slog.String("group_id", groupID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	downstream, err := o.graph.DownstreamOf(ctx, target)
	if err != nil {
		o.logger.Error("load downstream members",
			slog.String("target", target.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, member := range downstream {
		r, inGroup := byTarget[member]
		if !inGroup || r.Status != run.StatusPending {
			continue
		}

		upstreams, err := o.inGroupUpstreams(ctx, member, byTarget)
		if err != nil {
			o.logger.Error("readiness check",
				slog.String("target", member.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		allSucceeded := true
		for _, up := range upstreams {
			if byTarget[up].Status != run.StatusSuccess {
				allSucceeded = false
				break
			}
		}
		if !allSucceeded {
			continue
		}

		if err := o.dispatch(ctx, r); err != nil && !errors.Is(err, core.ErrConcurrentRunRejected) {
			o.logger.Error("release dispatch",
				slog.String("run_id", r.ID.String()),
				slog.String("target", member.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

// skipDownstream transitions every still-PENDING group member in the
// downstream closure of target to CANCELLED. The skip is recorded in the
// ledger so skipped runs stay distinguishable from executed ones.
func (o *Orchestrator) skipDownstream(ctx context.Context, target core.EntityRef, groupID id.GroupID) {
	byTarget, err := o.groupRuns(ctx, groupID)
	if err != nil {
		o.logger.Error("load group runs",
			slog.String("group_id", groupID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	closure, err := o.graph.Closure(ctx, target, graph.Downstream)
	if err != nil {
		o.logger.Error("load downstream closure",
			slog.String("target", target.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, member := range closure {
		if member == target {
			continue
		}
		r, inGroup := byTarget[member]
		if !inGroup || r.Status != run.StatusPending {
			continue
		}
		if _, err := o.ledger.Cancel(ctx, r.ID); err != nil {
			if errors.Is(err, core.ErrInvalidTransition) {
				continue
			}
			o.logger.Error("skip downstream member",
				slog.String("run_id", r.ID.String()),
				slog.String("target", member.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		o.logger.Info("downstream run skipped",
			slog.String("run_id", r.ID.String()),
			slog.String("target", member.String()),
			slog.String("upstream", target.String()),
		)
	}
}

// ──────────────────────────────────────────────────
// Internals
// ──────────────────────────────────────────────────

// dispatch hands the run to the bridge, cancelling it when the dispatch is
// rejected so it never lingers in PENDING. A rejected group member also
// skips its downstream siblings: the cancel happens outside the worker
// path, so no completion event will arrive to do it.
func (o *Orchestrator) dispatch(ctx context.Context, r *run.Run) error {
	_, err := o.dispatcher.Dispatch(ctx, r)
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrConcurrentRunRejected) {
		if _, cancelErr := o.ledger.Cancel(ctx, r.ID); cancelErr != nil {
			o.logger.Error("cancel rejected run",
				slog.String("run_id", r.ID.String()),
				slog.String("error", cancelErr.Error()),
			)
		}
		if !r.GroupID.IsNil() {
			o.skipDownstream(ctx, r.Target, r.GroupID)
		}
		return core.ErrConcurrentRunRejected
	}
	return fmt.Errorf("orchestrator: dispatch %s: %w", r.ID, err)
}

// groupRuns loads all runs of a group keyed by target.
func (o *Orchestrator) groupRuns(ctx context.Context, groupID id.GroupID) (map[core.EntityRef]*run.Run, error) {
	runs, err := o.ledger.List(ctx, run.ListOpts{GroupID: groupID})
	if err != nil {
		return nil, err
	}
	byTarget := make(map[core.EntityRef]*run.Run, len(runs))
	for _, r := range runs {
		byTarget[r.Target] = r
	}
	return byTarget, nil
}

// inGroupUpstreams returns the direct upstreams of member that belong to
// the same group firing.
func (o *Orchestrator) inGroupUpstreams(ctx context.Context, member core.EntityRef, byTarget map[core.EntityRef]*run.Run) ([]core.EntityRef, error) {
	upstreams, err := o.graph.UpstreamOf(ctx, member)
	if err != nil {
		return nil, err
	}
	inGroup := upstreams[:0]
	for _, up := range upstreams {
		if _, ok := byTarget[up]; ok {
			inGroup = append(inGroup, up)
		}
	}
	return inGroup, nil
}

// upstreamsFresh reports whether every upstream dependency of ref has ever
// completed successfully.
func (o *Orchestrator) upstreamsFresh(ctx context.Context, ref core.EntityRef) (bool, error) {
	upstreams, err := o.graph.UpstreamOf(ctx, ref)
	if err != nil {
		return false, err
	}
	for _, up := range upstreams {
		if _, err := o.ledger.LatestSuccess(ctx, up); err != nil {
			if errors.Is(err, core.ErrRunNotFound) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}

// gatedDispatch re-checks upstream freshness on a fixed countdown and
// dispatches once satisfied. Exhaustion fails the run so it never strands
// in PENDING.
func (o *Orchestrator) gatedDispatch(r *run.Run) {
	defer o.wg.Done()
	ctx := context.Background()

	for attempt := 1; attempt <= o.gateAttempts; attempt++ {
		select {
		case <-o.stopCh:
			return
		case <-time.After(o.gateDelay):
		}

		fresh, err := o.upstreamsFresh(ctx, r.Target)
		if err != nil {
			o.logger.Error("upstream freshness check",
				slog.String("run_id", r.ID.String()),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !fresh {
			continue
		}
		if err := o.dispatch(ctx, r); err != nil && !errors.Is(err, core.ErrConcurrentRunRejected) {
			o.logger.Error("deferred dispatch",
				slog.String("run_id", r.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	msg := fmt.Sprintf("upstream dependencies not satisfied after %d checks", o.gateAttempts)
	if _, err := o.ledger.Fail(ctx, r.ID, msg, ""); err != nil {
		o.logger.Error("fail gated run",
			slog.String("run_id", r.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}
