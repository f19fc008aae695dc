package core

import "errors"

var (
	// Validation errors. Rejected synchronously at the API boundary and
	// never enter durable state.
	ErrSelfReference    = errors.New("core: edge upstream and downstream are the same entity")
	ErrDuplicateEdge    = errors.New("core: edge already exists")
	ErrWouldCreateCycle = errors.New("core: edge would create a dependency cycle")
	ErrInvalidCron      = errors.New("core: invalid cron expression")
	ErrInvalidTarget    = errors.New("core: invalid trigger target")

	// ErrCycleDetected is the defensive guard on topological ordering. It
	// should be unreachable while every edge insertion goes through the
	// graph service's validation.
	ErrCycleDetected = errors.New("core: dependency graph contains a cycle")

	// Not found errors.
	ErrRunNotFound      = errors.New("core: run not found")
	ErrEdgeNotFound     = errors.New("core: edge not found")
	ErrScheduleNotFound = errors.New("core: schedule not found")
	ErrTriggerNotFound  = errors.New("core: trigger not found")

	// ErrInvalidTransition guards the run state machine. A transition out
	// of a terminal state, or a start on a non-PENDING run, is a
	// programming or race defect; it is always reported, never swallowed.
	ErrInvalidTransition = errors.New("core: invalid run state transition")

	// ErrConcurrentRunRejected means a dispatch was attempted while
	// another run of the same entity is RUNNING. Expected under
	// overlapping triggers; surfaced as a skipped dispatch.
	ErrConcurrentRunRejected = errors.New("core: entity already has a running run")

	// ErrAlreadyHandled means a redelivered task found its run past
	// PENDING. The worker aborts instead of re-executing.
	ErrAlreadyHandled = errors.New("core: run already handled")

	// Queue errors.
	ErrQueueUnavailable = errors.New("core: task queue unavailable")
	ErrQueueClosed      = errors.New("core: task queue closed")

	// Store errors.
	ErrNoStore     = errors.New("core: no store configured")
	ErrStoreClosed = errors.New("core: store closed")
)
