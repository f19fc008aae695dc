package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FireFunc is the callback the scheduler invokes for each due trigger.
// The orchestrator provides the implementation; the indirection keeps this
// package free of a dependency on run creation and dispatch.
type FireFunc func(ctx context.Context, t *Trigger) error

// RunningFunc reports whether the trigger's target currently has a RUNNING
// run. Used for the max-instances=1 fast-path skip; the ledger's
// concurrency rejection remains the enforcement point.
type RunningFunc func(ctx context.Context, t *Trigger) (bool, error)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due triggers.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithMisfireGrace bounds how far past its fire time a trigger may still
// issue its coalesced catch-up fire. Beyond the grace the fire is skipped
// and only the next fire time is advanced.
func WithMisfireGrace(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.misfireGrace = d }
}

// WithClock injects the clock. Defaults to the system clock.
func WithClock(c Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// Scheduler drives cron evaluation on a tick loop. One long-lived scheduler
// process owns all triggers; there is no leader election.
type Scheduler struct {
	store   Store
	fire    FireFunc
	running RunningFunc
	clock   Clock
	logger  *slog.Logger

	tickInterval time.Duration
	misfireGrace time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler. running may be nil to disable the
// overlap fast-path.
func NewScheduler(store Store, fire FireFunc, running RunningFunc, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:        store,
		fire:         fire,
		running:      running,
		clock:        SystemClock{},
		logger:       logger,
		tickInterval: 1 * time.Second,
		misfireGrace: 5 * time.Minute,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick loop goroutine.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("scheduler started", slog.Duration("tick_interval", s.tickInterval))
	return nil
}

// Stop signals the scheduler to stop and waits for the loop to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(context.Background())
		}
	}
}

// tick evaluates every trigger once. Due triggers fire at most once per
// tick regardless of how many fire times were missed (coalesce), and the
// next fire time is always computed from the current wall clock, never from
// the missed tick.
func (s *Scheduler) tick(ctx context.Context) {
	triggers, err := s.store.ListTriggers(ctx)
	if err != nil {
		s.logger.Error("list triggers", slog.String("error", err.Error()))
		return
	}

	now := s.clock.Now()
	for _, t := range triggers {
		if t.NextFireAt.After(now) {
			continue
		}
		s.fireTrigger(ctx, t, now)
	}
}

func (s *Scheduler) fireTrigger(ctx context.Context, t *Trigger, now time.Time) {
	next, err := NextFire(t.Expr, t.Timezone, now)
	if err != nil {
		// Unreachable: expressions are validated at sync time.
		s.logger.Error("trigger has invalid cron",
			slog.String("key", t.Key),
			slog.String("error", err.Error()),
		)
		return
	}

	// Advance first. The CAS makes a fire at-most-once per due time even
	// if a second scheduler instance is misconfigured into existence.
	advanced, err := s.store.AdvanceTrigger(ctx, t.Key, t.NextFireAt, next, now)
	if err != nil {
		s.logger.Error("advance trigger",
			slog.String("key", t.Key),
			slog.String("error", err.Error()),
		)
		return
	}
	if !advanced {
		return
	}

	// Misfire policy: one coalesced catch-up fire within the grace
	// window; older misses advance silently.
	if s.misfireGrace > 0 && now.Sub(t.NextFireAt) > s.misfireGrace {
		s.logger.Warn("trigger misfire skipped",
			slog.String("key", t.Key),
			slog.Time("missed", t.NextFireAt),
			slog.Time("next_fire_at", next),
		)
		return
	}

	// Overlap policy: drop the fire while the previous run is RUNNING.
	if s.running != nil {
		busy, err := s.running(ctx, t)
		if err != nil {
			s.logger.Error("overlap check",
				slog.String("key", t.Key),
				slog.String("error", err.Error()),
			)
			return
		}
		if busy {
			s.logger.Info("trigger fire dropped, previous run still running",
				slog.String("key", t.Key),
				slog.String("target", t.Target.Ref.String()),
			)
			return
		}
	}

	if err := s.fire(ctx, t); err != nil {
		s.logger.Error("trigger fire",
			slog.String("key", t.Key),
			slog.String("target", t.Target.Ref.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Info("trigger fired",
		slog.String("key", t.Key),
		slog.String("target", t.Target.Ref.String()),
		slog.Time("next_fire_at", next),
	)
}
