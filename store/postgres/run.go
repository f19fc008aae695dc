package postgres

import (
	"context"
	"fmt"
	"time"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/id"
	"github.com/datanika-io/datanika-core/run"
)

// CreateRun persists a new run in PENDING state.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO datanika_runs (
			id, target_kind, target_id, status, group_id, schedule_id,
			created_at, started_at, finished_at, rows_loaded, log, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID.String(),
		string(r.Target.Kind), r.Target.ID,
		string(r.Status),
		nullableID(r.GroupID), nullableID(r.ScheduleID),
		r.CreatedAt, r.StartedAt, r.FinishedAt,
		r.RowsLoaded, r.Log, r.Error,
	)
	if err != nil {
		return fmt.Errorf("datanika/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM datanika_runs WHERE id = $1`,
		runID.String(),
	)
	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, core.ErrRunNotFound
		}
		return nil, fmt.Errorf("datanika/postgres: get run: %w", err)
	}
	return r, nil
}

// ListRuns returns runs matching opts, newest first.
func (s *Store) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	query := `SELECT ` + runColumns + ` FROM datanika_runs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if opts.Target != nil {
		query += fmt.Sprintf(" AND target_kind = $%d AND target_id = $%d", argIdx, argIdx+1)
		args = append(args, string(opts.Target.Kind), opts.Target.ID)
		argIdx += 2
	}
	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}
	if !opts.GroupID.IsNil() {
		query += fmt.Sprintf(" AND group_id = $%d", argIdx)
		args = append(args, opts.GroupID.String())
		argIdx++
	}
	if !opts.Schedule.IsNil() {
		query += fmt.Sprintf(" AND schedule_id = $%d", argIdx)
		args = append(args, opts.Schedule.String())
		argIdx++
	}

	query += " ORDER BY seq DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("datanika/postgres: list runs: %w", err)
	}
	return collectRuns(rows)
}

// StartRun transitions PENDING→RUNNING. Both the status check and the
// single-RUNNING-per-target rule are applied in one statement; the partial
// unique index backs the rule up under concurrent writers.
func (s *Store) StartRun(ctx context.Context, runID id.RunID, at time.Time) (*run.Run, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE datanika_runs SET status = 'running', started_at = $2
		WHERE id = $1
		  AND status = 'pending'
		  AND NOT EXISTS (
			SELECT 1 FROM datanika_runs other
			WHERE other.target_kind = datanika_runs.target_kind
			  AND other.target_id = datanika_runs.target_id
			  AND other.status = 'running'
			  AND other.id <> datanika_runs.id
		  )
		RETURNING `+runColumns,
		runID.String(), at.UTC(),
	)
	r, err := scanRun(row)
	if err == nil {
		return r, nil
	}
	if isDuplicateKey(err) {
		return nil, core.ErrConcurrentRunRejected
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("datanika/postgres: start run: %w", err)
	}
	return nil, s.diagnoseStartFailure(ctx, runID)
}

// diagnoseStartFailure re-reads the run to report why a StartRun update
// matched no rows.
func (s *Store) diagnoseStartFailure(ctx context.Context, runID id.RunID) error {
	r, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status != run.StatusPending {
		return core.ErrInvalidTransition
	}
	return core.ErrConcurrentRunRejected
}

// CompleteRun transitions RUNNING→SUCCESS with the result metrics.
func (s *Store) CompleteRun(ctx context.Context, runID id.RunID, at time.Time, m run.Metrics) (*run.Run, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE datanika_runs SET
			status = 'success', finished_at = $2, rows_loaded = $3, log = $4
		WHERE id = $1 AND status = 'running'
		RETURNING `+runColumns,
		runID.String(), at.UTC(), m.RowsLoaded, m.Log,
	)
	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, s.diagnoseTransitionFailure(ctx, runID)
		}
		return nil, fmt.Errorf("datanika/postgres: complete run: %w", err)
	}
	return r, nil
}

// FailRun transitions RUNNING→FAILED or PENDING→FAILED.
func (s *Store) FailRun(ctx context.Context, runID id.RunID, at time.Time, errMsg, log string) (*run.Run, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE datanika_runs SET
			status = 'failed', finished_at = $2, error = $3,
			log = CASE WHEN $4 = '' THEN log ELSE $4 END
		WHERE id = $1 AND status IN ('running', 'pending')
		RETURNING `+runColumns,
		runID.String(), at.UTC(), errMsg, log,
	)
	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, s.diagnoseTransitionFailure(ctx, runID)
		}
		return nil, fmt.Errorf("datanika/postgres: fail run: %w", err)
	}
	return r, nil
}

// CancelRun transitions PENDING→CANCELLED or RUNNING→CANCELLED.
func (s *Store) CancelRun(ctx context.Context, runID id.RunID, at time.Time) (*run.Run, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE datanika_runs SET status = 'cancelled', finished_at = $2
		WHERE id = $1 AND status IN ('running', 'pending')
		RETURNING `+runColumns,
		runID.String(), at.UTC(),
	)
	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, s.diagnoseTransitionFailure(ctx, runID)
		}
		return nil, fmt.Errorf("datanika/postgres: cancel run: %w", err)
	}
	return r, nil
}

// diagnoseTransitionFailure distinguishes a missing run from a stale
// transition after an update matched no rows.
func (s *Store) diagnoseTransitionFailure(ctx context.Context, runID id.RunID) error {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return err
	}
	return core.ErrInvalidTransition
}

// CountRunning returns the number of RUNNING runs for the target.
func (s *Store) CountRunning(ctx context.Context, target core.EntityRef) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM datanika_runs
		WHERE target_kind = $1 AND target_id = $2 AND status = 'running'`,
		string(target.Kind), target.ID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("datanika/postgres: count running: %w", err)
	}
	return n, nil
}

// LatestSuccess returns the most recent SUCCESS run for the target.
func (s *Store) LatestSuccess(ctx context.Context, target core.EntityRef) (*run.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+runColumns+` FROM datanika_runs
		WHERE target_kind = $1 AND target_id = $2 AND status = 'success'
		ORDER BY seq DESC
		LIMIT 1`,
		string(target.Kind), target.ID,
	)
	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, core.ErrRunNotFound
		}
		return nil, fmt.Errorf("datanika/postgres: latest success: %w", err)
	}
	return r, nil
}
