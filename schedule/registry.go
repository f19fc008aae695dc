package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/id"
)

// Clock abstracts wall-clock reads so restart and firing behavior are
// deterministic under test.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Registry owns schedule trigger state: it keeps the durable trigger store
// consistent with the schedule records.
type Registry struct {
	store  Store
	clock  Clock
	logger *slog.Logger
}

// NewRegistry creates a Registry. clock may be nil for the system clock.
func NewRegistry(store Store, clock Clock, logger *slog.Logger) *Registry {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, clock: clock, logger: logger}
}

// Create validates and persists a new schedule, then syncs its trigger.
func (r *Registry) Create(ctx context.Context, target core.Target, expr, timezone string, active bool) (*Schedule, error) {
	if !target.Ref.Kind.Valid() {
		return nil, fmt.Errorf("%w: target %s", core.ErrInvalidTarget, target.Ref)
	}
	if _, err := ParseCron(expr, timezone); err != nil {
		return nil, err
	}

	now := r.clock.Now()
	s := &Schedule{
		ID:        id.NewScheduleID(),
		Target:    target,
		Expr:      expr,
		Timezone:  timezone,
		IsActive:  active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateSchedule(ctx, s); err != nil {
		return nil, fmt.Errorf("schedule: create: %w", err)
	}
	if err := r.Sync(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Update changes a schedule's cron expression, timezone, or activity and
// re-syncs its trigger.
func (r *Registry) Update(ctx context.Context, scheduleID id.ScheduleID, expr, timezone string, active bool) (*Schedule, error) {
	s, err := r.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if s.Deleted() {
		return nil, core.ErrScheduleNotFound
	}
	if _, err := ParseCron(expr, timezone); err != nil {
		return nil, err
	}

	s.Expr = expr
	s.Timezone = timezone
	s.IsActive = active
	s.UpdatedAt = r.clock.Now()
	if err := r.store.UpdateSchedule(ctx, s); err != nil {
		return nil, fmt.Errorf("schedule: update: %w", err)
	}
	if err := r.Sync(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Delete tombstones a schedule and removes its trigger. The record is kept.
func (r *Registry) Delete(ctx context.Context, scheduleID id.ScheduleID) error {
	if err := r.store.TombstoneSchedule(ctx, scheduleID); err != nil {
		return err
	}
	return r.Remove(ctx, scheduleID)
}

// Sync brings the trigger store in line with one schedule: an active,
// non-deleted schedule gets exactly one trigger row keyed by its id (upsert,
// so re-syncing identical content is idempotent); otherwise any existing
// trigger is removed and the record left alone.
func (r *Registry) Sync(ctx context.Context, s *Schedule) error {
	key := TriggerKey(s.ID)

	if !s.IsActive || s.Deleted() {
		if err := r.store.DeleteTrigger(ctx, key); err != nil {
			return fmt.Errorf("schedule: sync %s: delete trigger: %w", s.ID, err)
		}
		return nil
	}

	next, err := NextFire(s.Expr, s.Timezone, r.clock.Now())
	if err != nil {
		return err
	}

	t := &Trigger{
		Key:        key,
		ScheduleID: s.ID,
		Target:     s.Target,
		Expr:       s.Expr,
		Timezone:   s.Timezone,
		NextFireAt: next,
	}
	if err := r.store.UpsertTrigger(ctx, t); err != nil {
		return fmt.Errorf("schedule: sync %s: upsert trigger: %w", s.ID, err)
	}

	r.logger.Info("schedule trigger synced",
		slog.String("schedule_id", s.ID.String()),
		slog.String("expr", s.Expr),
		slog.Time("next_fire_at", next),
	)
	return nil
}

// Remove unregisters a schedule's trigger without touching the record.
func (r *Registry) Remove(ctx context.Context, scheduleID id.ScheduleID) error {
	return r.store.DeleteTrigger(ctx, TriggerKey(scheduleID))
}

// SyncAll reconciles the full trigger store against all active, non-deleted
// schedules. Called once at process start to rebuild volatile scheduler
// state from durable storage. Returns the number of triggers registered.
func (r *Registry) SyncAll(ctx context.Context) (int, error) {
	schedules, err := r.store.ListSchedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("schedule: sync all: list: %w", err)
	}

	wanted := make(map[string]bool, len(schedules))
	count := 0
	var errs []error
	for _, s := range schedules {
		if err := r.Sync(ctx, s); err != nil {
			errs = append(errs, err)
			continue
		}
		if s.IsActive && !s.Deleted() {
			wanted[TriggerKey(s.ID)] = true
			count++
		}
	}

	// Drop triggers whose schedules no longer exist or went inactive.
	triggers, err := r.store.ListTriggers(ctx)
	if err != nil {
		return count, fmt.Errorf("schedule: sync all: list triggers: %w", err)
	}
	for _, t := range triggers {
		if wanted[t.Key] {
			continue
		}
		if err := r.store.DeleteTrigger(ctx, t.Key); err != nil {
			errs = append(errs, err)
			continue
		}
		r.logger.Info("orphaned trigger removed", slog.String("key", t.Key))
	}

	r.logger.Info("trigger store reconciled", slog.Int("triggers", count))
	return count, errors.Join(errs...)
}

// Get retrieves a schedule by ID.
func (r *Registry) Get(ctx context.Context, scheduleID id.ScheduleID) (*Schedule, error) {
	return r.store.GetSchedule(ctx, scheduleID)
}

// Trigger returns the trigger row for a schedule, or core.ErrTriggerNotFound
// when the schedule is inactive or deleted.
func (r *Registry) Trigger(ctx context.Context, scheduleID id.ScheduleID) (*Trigger, error) {
	return r.store.GetTrigger(ctx, TriggerKey(scheduleID))
}
