package postgres

import (
	"context"
	"fmt"
	"time"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/id"
	"github.com/datanika-io/datanika-core/schedule"
)

// CreateSchedule persists a new schedule record.
func (s *Store) CreateSchedule(ctx context.Context, sc *schedule.Schedule) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO datanika_schedules (
			id, target_mode, target_kind, target_id, expr, timezone,
			is_active, created_at, updated_at, deleted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sc.ID.String(),
		string(sc.Target.Mode), string(sc.Target.Ref.Kind), sc.Target.Ref.ID,
		sc.Expr, sc.Timezone, sc.IsActive,
		sc.CreatedAt, sc.UpdatedAt, sc.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("datanika/postgres: create schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID, tombstoned or not.
func (s *Store) GetSchedule(ctx context.Context, scheduleID id.ScheduleID) (*schedule.Schedule, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM datanika_schedules WHERE id = $1`,
		scheduleID.String(),
	)
	sc, err := scanSchedule(row)
	if err != nil {
		if isNoRows(err) {
			return nil, core.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("datanika/postgres: get schedule: %w", err)
	}
	return sc, nil
}

// UpdateSchedule persists changes to an existing schedule.
func (s *Store) UpdateSchedule(ctx context.Context, sc *schedule.Schedule) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE datanika_schedules SET
			target_mode = $2, target_kind = $3, target_id = $4,
			expr = $5, timezone = $6, is_active = $7,
			updated_at = $8, deleted_at = $9
		WHERE id = $1`,
		sc.ID.String(),
		string(sc.Target.Mode), string(sc.Target.Ref.Kind), sc.Target.Ref.ID,
		sc.Expr, sc.Timezone, sc.IsActive,
		sc.UpdatedAt, sc.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("datanika/postgres: update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrScheduleNotFound
	}
	return nil
}

// ListSchedules returns all non-deleted schedules.
func (s *Store) ListSchedules(ctx context.Context) ([]*schedule.Schedule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+scheduleColumns+` FROM datanika_schedules WHERE deleted_at IS NULL ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("datanika/postgres: list schedules: %w", err)
	}
	return collectSchedules(rows)
}

// TombstoneSchedule soft-deletes a schedule record.
func (s *Store) TombstoneSchedule(ctx context.Context, scheduleID id.ScheduleID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE datanika_schedules SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		scheduleID.String(),
	)
	if err != nil {
		return fmt.Errorf("datanika/postgres: tombstone schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrScheduleNotFound
	}
	return nil
}

// UpsertTrigger inserts or replaces the trigger row for t.Key.
func (s *Store) UpsertTrigger(ctx context.Context, t *schedule.Trigger) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO datanika_triggers (
			key, schedule_id, target_mode, target_kind, target_id,
			expr, timezone, next_fire_at, last_fire_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (key) DO UPDATE SET
			schedule_id = EXCLUDED.schedule_id,
			target_mode = EXCLUDED.target_mode,
			target_kind = EXCLUDED.target_kind,
			target_id = EXCLUDED.target_id,
			expr = EXCLUDED.expr,
			timezone = EXCLUDED.timezone,
			next_fire_at = EXCLUDED.next_fire_at,
			last_fire_at = EXCLUDED.last_fire_at`,
		t.Key, t.ScheduleID.String(),
		string(t.Target.Mode), string(t.Target.Ref.Kind), t.Target.Ref.ID,
		t.Expr, t.Timezone, t.NextFireAt, t.LastFireAt,
	)
	if err != nil {
		return fmt.Errorf("datanika/postgres: upsert trigger: %w", err)
	}
	return nil
}

// GetTrigger retrieves a trigger row by key.
func (s *Store) GetTrigger(ctx context.Context, key string) (*schedule.Trigger, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+triggerColumns+` FROM datanika_triggers WHERE key = $1`,
		key,
	)
	t, err := scanTrigger(row)
	if err != nil {
		if isNoRows(err) {
			return nil, core.ErrTriggerNotFound
		}
		return nil, fmt.Errorf("datanika/postgres: get trigger: %w", err)
	}
	return t, nil
}

// DeleteTrigger removes a trigger row by key. Missing rows are ignored.
func (s *Store) DeleteTrigger(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM datanika_triggers WHERE key = $1`,
		key,
	)
	if err != nil {
		return fmt.Errorf("datanika/postgres: delete trigger: %w", err)
	}
	return nil
}

// ListTriggers returns all trigger rows.
func (s *Store) ListTriggers(ctx context.Context) ([]*schedule.Trigger, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+triggerColumns+` FROM datanika_triggers ORDER BY key`,
	)
	if err != nil {
		return nil, fmt.Errorf("datanika/postgres: list triggers: %w", err)
	}
	return collectTriggers(rows)
}

// AdvanceTrigger atomically records a fire while NextFireAt is unchanged.
func (s *Store) AdvanceTrigger(ctx context.Context, key string, expected, next, firedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE datanika_triggers SET next_fire_at = $3, last_fire_at = $4
		WHERE key = $1 AND next_fire_at = $2`,
		key, expected.UTC(), next.UTC(), firedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("datanika/postgres: advance trigger: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	// Distinguish a lost race from a missing row.
	if _, err := s.GetTrigger(ctx, key); err != nil {
		return false, err
	}
	return false, nil
}
