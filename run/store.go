package run

import (
	"context"
	"time"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/id"
)

// Store defines the persistence contract for runs. Every transition method
// is an atomic compare-and-set on the run's current status; a stale
// transition returns core.ErrInvalidTransition and leaves the row unchanged.
type Store interface {
	// CreateRun persists a new run in PENDING state.
	CreateRun(ctx context.Context, r *Run) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID id.RunID) (*Run, error)

	// ListRuns returns runs matching opts, newest first.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)

	// StartRun transitions PENDING→RUNNING and sets started_at. It fails
	// with core.ErrInvalidTransition when the run is not PENDING, and
	// with core.ErrConcurrentRunRejected when another run of the same
	// target is RUNNING. Both checks are applied atomically.
	StartRun(ctx context.Context, runID id.RunID, at time.Time) (*Run, error)

	// CompleteRun transitions RUNNING→SUCCESS, setting finished_at and
	// the result metrics.
	CompleteRun(ctx context.Context, runID id.RunID, at time.Time, m Metrics) (*Run, error)

	// FailRun transitions RUNNING→FAILED or PENDING→FAILED (dispatch
	// never attempted), setting finished_at and the error detail.
	FailRun(ctx context.Context, runID id.RunID, at time.Time, errMsg, log string) (*Run, error)

	// CancelRun transitions PENDING→CANCELLED or RUNNING→CANCELLED,
	// setting finished_at.
	CancelRun(ctx context.Context, runID id.RunID, at time.Time) (*Run, error)

	// CountRunning returns the number of RUNNING runs for the target.
	CountRunning(ctx context.Context, target core.EntityRef) (int, error)

	// LatestSuccess returns the most recent SUCCESS run for the target,
	// or core.ErrRunNotFound if none exists.
	LatestSuccess(ctx context.Context, target core.EntityRef) (*Run, error)
}
