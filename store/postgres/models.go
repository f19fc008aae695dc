package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/graph"
	"github.com/datanika-io/datanika-core/id"
	"github.com/datanika-io/datanika-core/run"
	"github.com/datanika-io/datanika-core/schedule"
)

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// ── Edge model ────────────────────────────────────────────────────

const edgeColumns = `id, upstream_kind, upstream_id, downstream_kind, downstream_id, created_at, deleted_at`

func scanEdge(row rowScanner) (*graph.Edge, error) {
	var (
		e        graph.Edge
		rawID    string
		upKind   string
		downKind string
	)
	err := row.Scan(
		&rawID,
		&upKind, &e.Upstream.ID,
		&downKind, &e.Downstream.ID,
		&e.CreatedAt, &e.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	e.ID, err = id.ParseEdgeID(rawID)
	if err != nil {
		return nil, fmt.Errorf("datanika/postgres: parse edge id %q: %w", rawID, err)
	}
	e.Upstream.Kind = core.Kind(upKind)
	e.Downstream.Kind = core.Kind(downKind)
	return &e, nil
}

func collectEdges(rows pgx.Rows) ([]*graph.Edge, error) {
	defer rows.Close()
	var out []*graph.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ── Run model ─────────────────────────────────────────────────────

const runColumns = `id, target_kind, target_id, status, group_id, schedule_id, created_at, started_at, finished_at, rows_loaded, log, error`

func scanRun(row rowScanner) (*run.Run, error) {
	var (
		r          run.Run
		rawID      string
		kind       string
		status     string
		groupID    *string
		scheduleID *string
	)
	err := row.Scan(
		&rawID,
		&kind, &r.Target.ID,
		&status,
		&groupID, &scheduleID,
		&r.CreatedAt, &r.StartedAt, &r.FinishedAt,
		&r.RowsLoaded, &r.Log, &r.Error,
	)
	if err != nil {
		return nil, err
	}
	r.ID, err = id.ParseRunID(rawID)
	if err != nil {
		return nil, fmt.Errorf("datanika/postgres: parse run id %q: %w", rawID, err)
	}
	r.Target.Kind = core.Kind(kind)
	r.Status = run.Status(status)
	if groupID != nil {
		r.GroupID, err = id.ParseGroupID(*groupID)
		if err != nil {
			return nil, fmt.Errorf("datanika/postgres: parse group id %q: %w", *groupID, err)
		}
	}
	if scheduleID != nil {
		r.ScheduleID, err = id.ParseScheduleID(*scheduleID)
		if err != nil {
			return nil, fmt.Errorf("datanika/postgres: parse schedule id %q: %w", *scheduleID, err)
		}
	}
	return &r, nil
}

func collectRuns(rows pgx.Rows) ([]*run.Run, error) {
	defer rows.Close()
	var out []*run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ── Schedule model ────────────────────────────────────────────────

const scheduleColumns = `id, target_mode, target_kind, target_id, expr, timezone, is_active, created_at, updated_at, deleted_at`

func scanSchedule(row rowScanner) (*schedule.Schedule, error) {
	var (
		s     schedule.Schedule
		rawID string
		mode  string
		kind  string
	)
	err := row.Scan(
		&rawID,
		&mode, &kind, &s.Target.Ref.ID,
		&s.Expr, &s.Timezone, &s.IsActive,
		&s.CreatedAt, &s.UpdatedAt, &s.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	s.ID, err = id.ParseScheduleID(rawID)
	if err != nil {
		return nil, fmt.Errorf("datanika/postgres: parse schedule id %q: %w", rawID, err)
	}
	s.Target.Mode = core.TargetMode(mode)
	s.Target.Ref.Kind = core.Kind(kind)
	return &s, nil
}

func collectSchedules(rows pgx.Rows) ([]*schedule.Schedule, error) {
	defer rows.Close()
	var out []*schedule.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ── Trigger model ─────────────────────────────────────────────────

const triggerColumns = `key, schedule_id, target_mode, target_kind, target_id, expr, timezone, next_fire_at, last_fire_at`

func scanTrigger(row rowScanner) (*schedule.Trigger, error) {
	var (
		t     schedule.Trigger
		rawID string
		mode  string
		kind  string
	)
	err := row.Scan(
		&t.Key,
		&rawID,
		&mode, &kind, &t.Target.Ref.ID,
		&t.Expr, &t.Timezone,
		&t.NextFireAt, &t.LastFireAt,
	)
	if err != nil {
		return nil, err
	}
	t.ScheduleID, err = id.ParseScheduleID(rawID)
	if err != nil {
		return nil, fmt.Errorf("datanika/postgres: parse schedule id %q: %w", rawID, err)
	}
	t.Target.Mode = core.TargetMode(mode)
	t.Target.Ref.Kind = core.Kind(kind)
	return &t, nil
}

func collectTriggers(rows pgx.Rows) ([]*schedule.Trigger, error) {
	defer rows.Close()
	var out []*schedule.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
