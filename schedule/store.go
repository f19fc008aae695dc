package schedule

import (
	"context"
	"time"

	"github.com/datanika-io/datanika-core/id"
)

// Store defines the persistence contract for schedule records and their
// durable trigger rows. Trigger rows survive process restart; SyncAll
// reconciles them against the schedule records at startup.
type Store interface {
	// CreateSchedule persists a new schedule record.
	CreateSchedule(ctx context.Context, s *Schedule) error

	// GetSchedule retrieves a schedule by ID, tombstoned or not.
	GetSchedule(ctx context.Context, scheduleID id.ScheduleID) (*Schedule, error)

	// UpdateSchedule persists changes to an existing schedule.
	UpdateSchedule(ctx context.Context, s *Schedule) error

	// ListSchedules returns all non-deleted schedules.
	ListSchedules(ctx context.Context) ([]*Schedule, error)

	// TombstoneSchedule soft-deletes a schedule record.
	TombstoneSchedule(ctx context.Context, scheduleID id.ScheduleID) error

	// UpsertTrigger inserts or replaces the trigger row for t.Key.
	UpsertTrigger(ctx context.Context, t *Trigger) error

	// GetTrigger retrieves a trigger row by key, or
	// core.ErrTriggerNotFound.
	GetTrigger(ctx context.Context, key string) (*Trigger, error)

	// DeleteTrigger removes a trigger row by key. Removing a missing
	// trigger is not an error.
	DeleteTrigger(ctx context.Context, key string) error

	// ListTriggers returns all trigger rows.
	ListTriggers(ctx context.Context) ([]*Trigger, error)

	// AdvanceTrigger atomically records a fire: it sets LastFireAt to
	// firedAt and NextFireAt to next, but only while the row's NextFireAt
	// is unchanged from expected. Returns false when another scheduler
	// instance advanced the row first.
	AdvanceTrigger(ctx context.Context, key string, expected, next, firedAt time.Time) (bool, error)
}
