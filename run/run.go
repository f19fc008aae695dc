package run

import (
	"time"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/id"
)

// Status is the lifecycle state of a run.
type Status string

const (
	// StatusPending means the run is created but not yet executing.
	StatusPending Status = "pending"
	// StatusRunning means a worker is executing the run.
	StatusRunning Status = "running"
	// StatusSuccess means the run finished successfully.
	StatusSuccess Status = "success"
	// StatusFailed means the run finished with an error.
	StatusFailed Status = "failed"
	// StatusCancelled means the run was cancelled or skipped before or
	// during execution. Cancellation of RUNNING work is best-effort:
	// CANCELLED means "no longer tracked", not "guaranteed stopped".
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// Metrics carries the result of a completed execution, reported by the
// execution backend. The engine does not inspect it beyond recording.
type Metrics struct {
	RowsLoaded int64  `json:"rows_loaded"`
	Log        string `json:"log,omitempty"`
}

// Run is one execution attempt of one entity.
type Run struct {
	ID     id.RunID       `json:"id"`
	Target core.EntityRef `json:"target"`
	Status Status         `json:"status"`

	// GroupID ties together the runs created by one DAG-group firing.
	// Nil for single-entity triggers.
	GroupID id.GroupID `json:"group_id,omitempty"`

	// ScheduleID references the schedule whose fire created this run.
	// Nil when the run was triggered manually.
	ScheduleID id.ScheduleID `json:"schedule_id,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	RowsLoaded int64  `json:"rows_loaded"`
	Log        string `json:"log,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ListOpts filters and bounds ledger queries. Results are newest-first.
type ListOpts struct {
	Target   *core.EntityRef
	Status   Status
	GroupID  id.GroupID
	Schedule id.ScheduleID
	Limit    int
}
