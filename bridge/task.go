package bridge

import (
	"context"
	"time"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/id"
	"github.com/datanika-io/datanika-core/run"
)

// Task is the dispatched unit handed to the execution backend. The backend
// is opaque beyond this contract: it executes the entity and reports the
// result through the run ledger's transition methods.
type Task struct {
	ID         id.TaskID      `json:"id"`
	RunID      id.RunID       `json:"run_id"`
	Target     core.EntityRef `json:"target"`
	Queue      string         `json:"queue"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// Delivery is one receipt of a Task from a transport. Token identifies the
// delivery for acknowledgement; a task redelivered after a worker crash
// carries a fresh token.
type Delivery struct {
	Task  *Task
	Token string
}

// Queue is the transport contract between the bridge and the worker pool.
// Implementations live in the queue package.
type Queue interface {
	// Enqueue makes the task available to workers. Transient failures
	// return core.ErrQueueUnavailable.
	Enqueue(ctx context.Context, t *Task) error

	// Receive blocks up to wait for the next task on one of the queues.
	// Returns (nil, nil) when the wait elapses with nothing available.
	Receive(ctx context.Context, queues []string, wait time.Duration) (*Delivery, error)

	// Ack acknowledges a delivery, removing it from redelivery tracking.
	Ack(ctx context.Context, d *Delivery) error

	// Close releases transport resources.
	Close() error
}

// Handle describes a successful dispatch.
type Handle struct {
	TaskID     id.TaskID
	RunID      id.RunID
	Queue      string
	EnqueuedAt time.Time
}

// Completion is the event a worker reports when a run reaches a terminal
// state. The orchestrator reacts to these to release downstream entities.
type Completion struct {
	RunID   id.RunID
	Target  core.EntityRef
	GroupID id.GroupID
	Status  run.Status
	Error   string
}
