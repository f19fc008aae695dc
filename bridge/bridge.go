package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/backoff"
	"github.com/datanika-io/datanika-core/id"
	"github.com/datanika-io/datanika-core/run"
)

// Emitter receives dispatch lifecycle notifications. ext.Registry satisfies
// this interface.
type Emitter interface {
	EmitTaskDispatched(ctx context.Context, t *Task)
	EmitDispatchRejected(ctx context.Context, target core.EntityRef)
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithBackoff sets the retry delay strategy for transient queue failures.
func WithBackoff(s backoff.Strategy) Option {
	return func(b *Bridge) { b.strategy = s }
}

// WithAttempts bounds enqueue attempts before the run is failed.
func WithAttempts(n int) Option {
	return func(b *Bridge) { b.attempts = n }
}

// WithQueueName sets the queue tasks are dispatched to.
func WithQueueName(name string) Option {
	return func(b *Bridge) { b.queueName = name }
}

// WithEmitter sets the dispatch lifecycle emitter.
func WithEmitter(e Emitter) Option {
	return func(b *Bridge) { b.emitter = e }
}

// Bridge dispatches runs to the task queue and funnels worker completions
// back to the orchestrator.
type Bridge struct {
	queue    Queue
	ledger   *run.Ledger
	strategy backoff.Strategy
	emitter  Emitter
	logger   *slog.Logger

	queueName string
	attempts  int

	completions chan Completion
}

// New creates a Bridge.
func New(queue Queue, ledger *run.Ledger, logger *slog.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		queue:       queue,
		ledger:      ledger,
		strategy:    backoff.Default(),
		logger:      logger,
		queueName:   "default",
		attempts:    5,
		completions: make(chan Completion, 128),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dispatch hands a PENDING run to the execution backend.
//
// The serial-per-entity policy is checked first: while another run of the
// same entity is RUNNING the dispatch is rejected with
// core.ErrConcurrentRunRejected and no task is enqueued. Transient
// transport failures are retried with backoff up to the attempt bound;
// exhaustion transitions the run to FAILED with a distinguishing error so
// it is never stranded in PENDING.
func (b *Bridge) Dispatch(ctx context.Context, r *run.Run) (*Handle, error) {
	busy, err := b.ledger.HasRunning(ctx, r.Target)
	if err != nil {
		return nil, fmt.Errorf("bridge: dispatch %s: %w", r.ID, err)
	}
	if busy {
		if b.emitter != nil {
			b.emitter.EmitDispatchRejected(ctx, r.Target)
		}
		b.logger.Info("dispatch rejected, entity already running",
			slog.String("run_id", r.ID.String()),
			slog.String("target", r.Target.String()),
		)
		return nil, core.ErrConcurrentRunRejected
	}

	t := &Task{
		ID:         id.NewTaskID(),
		RunID:      r.ID,
		Target:     r.Target,
		Queue:      b.queueName,
		EnqueuedAt: time.Now().UTC(),
	}

	if err := b.enqueueWithRetry(ctx, t); err != nil {
		msg := fmt.Sprintf("dispatch exhausted after %d attempts: %v", b.attempts, err)
		if _, failErr := b.ledger.Fail(ctx, r.ID, msg, ""); failErr != nil {
			b.logger.Error("failed to record dispatch exhaustion",
				slog.String("run_id", r.ID.String()),
				slog.String("error", failErr.Error()),
			)
		}
		return nil, fmt.Errorf("bridge: dispatch %s: %w", r.ID, err)
	}

	if b.emitter != nil {
		b.emitter.EmitTaskDispatched(ctx, t)
	}
	b.logger.Debug("task dispatched",
		slog.String("task_id", t.ID.String()),
		slog.String("run_id", r.ID.String()),
		slog.String("target", r.Target.String()),
	)
	return &Handle{TaskID: t.ID, RunID: r.ID, Queue: t.Queue, EnqueuedAt: t.EnqueuedAt}, nil
}

func (b *Bridge) enqueueWithRetry(ctx context.Context, t *Task) error {
	var lastErr error
	for attempt := 1; attempt <= b.attempts; attempt++ {
		lastErr = b.queue.Enqueue(ctx, t)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, core.ErrQueueUnavailable) {
			return lastErr
		}

		b.logger.Warn("queue unavailable, retrying dispatch",
			slog.String("task_id", t.ID.String()),
			slog.Int("attempt", attempt),
		)
		if attempt == b.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.strategy.Delay(attempt)):
		}
	}
	return lastErr
}

// NotifyCompletion reports a terminal run transition. Called by the worker
// executor after it has applied the transition to the ledger. The send is
// non-blocking: when nothing drains Completions and the buffer fills, the
// event is dropped with a warning rather than wedging the worker. The
// terminal state itself is already durable in the ledger.
func (b *Bridge) NotifyCompletion(c Completion) {
	select {
	case b.completions <- c:
	default:
		b.logger.Warn("completion event dropped, channel full",
			slog.String("run_id", c.RunID.String()),
			slog.String("target", c.Target.String()),
			slog.String("status", string(c.Status)),
		)
	}
}

// Completions is the event stream the orchestrator consumes to release
// downstream entities.
func (b *Bridge) Completions() <-chan Completion {
	return b.completions
}
