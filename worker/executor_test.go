package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/bridge"
	"github.com/datanika-io/datanika-core/id"
	"github.com/datanika-io/datanika-core/middleware"
	"github.com/datanika-io/datanika-core/queue"
	"github.com/datanika-io/datanika-core/run"
	"github.com/datanika-io/datanika-core/store/memory"
	"github.com/datanika-io/datanika-core/worker"
)

// spyNotifier records completions reported by the executor.
type spyNotifier struct {
	mu          sync.Mutex
	completions []bridge.Completion
}

func (n *spyNotifier) NotifyCompletion(c bridge.Completion) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completions = append(n.completions, c)
}

func (n *spyNotifier) last(t *testing.T) bridge.Completion {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.completions) == 0 {
		t.Fatal("no completion recorded")
	}
	return n.completions[len(n.completions)-1]
}

type fixture struct {
	ledger   *run.Ledger
	registry *worker.Registry
	queue    *queue.Memory
	notifier *spyNotifier
	executor *worker.Executor
}

func newFixture(t *testing.T, mws ...middleware.Middleware) *fixture {
	t.Helper()
	f := &fixture{
		ledger:   run.NewLedger(memory.New(), nil, slog.Default()),
		registry: worker.NewRegistry(),
		queue:    queue.NewMemory(),
		notifier: &spyNotifier{},
	}
	f.executor = worker.NewExecutor(f.registry, f.ledger, f.queue, f.notifier, slog.Default(), mws...)
	return f
}

func (f *fixture) delivery(t *testing.T, target core.EntityRef) (*bridge.Delivery, *run.Run) {
	t.Helper()
	r, err := f.ledger.Create(context.Background(), target, run.CreateOpts{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	task := &bridge.Task{
		ID:         id.NewTaskID(),
		RunID:      r.ID,
		Target:     target,
		Queue:      "default",
		EnqueuedAt: time.Now().UTC(),
	}
	return &bridge.Delivery{Task: task, Token: "tok"}, r
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	target := core.Ref(core.KindPipeline, 1)
	f.registry.Register(core.KindPipeline, func(context.Context, core.EntityRef) (run.Metrics, error) {
		return run.Metrics{RowsLoaded: 7, Log: "loaded"}, nil
	})
	d, r := f.delivery(t, target)

	if err := f.executor.Execute(context.Background(), d); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := f.ledger.Get(context.Background(), r.ID)
	if got.Status != run.StatusSuccess || got.RowsLoaded != 7 {
		t.Errorf("run after execute: %+v", got)
	}
	c := f.notifier.last(t)
	if c.RunID != r.ID || c.Status != run.StatusSuccess {
		t.Errorf("completion = %+v", c)
	}
}

func TestExecuteHandlerErrorFailsRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.registry.Register(core.KindPipeline, func(context.Context, core.EntityRef) (run.Metrics, error) {
		return run.Metrics{Log: "partial output"}, errors.New("extract blew up")
	})
	d, r := f.delivery(t, core.Ref(core.KindPipeline, 1))

	if err := f.executor.Execute(context.Background(), d); err == nil {
		t.Fatal("Execute returned nil for a failing handler")
	}

	got, _ := f.ledger.Get(context.Background(), r.ID)
	if got.Status != run.StatusFailed || got.Error != "extract blew up" {
		t.Errorf("run after failure: %+v", got)
	}
	if got.Log != "partial output" {
		t.Errorf("log = %q, want partial handler output preserved", got.Log)
	}
	c := f.notifier.last(t)
	if c.Status != run.StatusFailed || c.Error != "extract blew up" {
		t.Errorf("completion = %+v", c)
	}
}

func TestExecuteMissingHandlerFailsRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	d, r := f.delivery(t, core.Ref(core.KindTransformation, 2))

	if err := f.executor.Execute(context.Background(), d); err == nil {
		t.Fatal("Execute returned nil without a handler")
	}
	got, _ := f.ledger.Get(context.Background(), r.ID)
	if got.Status != run.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestExecuteDeduplicatesRedelivery(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	calls := 0
	f.registry.Register(core.KindPipeline, func(context.Context, core.EntityRef) (run.Metrics, error) {
		calls++
		return run.Metrics{}, nil
	})
	d, _ := f.delivery(t, core.Ref(core.KindPipeline, 1))

	if err := f.executor.Execute(context.Background(), d); err != nil {
		t.Fatalf("first Execute: %v", err)
	}

	// The same task arrives again under a new token.
	redelivered := &bridge.Delivery{Task: d.Task, Token: "tok2"}
	err := f.executor.Execute(context.Background(), redelivered)
	if !errors.Is(err, core.ErrAlreadyHandled) {
		t.Fatalf("got %v, want ErrAlreadyHandled", err)
	}
	if calls != 1 {
		t.Errorf("handler ran %d times, want 1", calls)
	}
}

func TestExecuteRequeuesOnConcurrencyRejection(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.registry.Register(core.KindPipeline, func(context.Context, core.EntityRef) (run.Metrics, error) {
		return run.Metrics{}, nil
	})
	target := core.Ref(core.KindPipeline, 1)

	// Another run of the same entity is already RUNNING.
	blocker, _ := f.ledger.Create(context.Background(), target, run.CreateOpts{})
	if _, err := f.ledger.Start(context.Background(), blocker.ID); err != nil {
		t.Fatalf("Start blocker: %v", err)
	}

	d, _ := f.delivery(t, target)
	err := f.executor.Execute(context.Background(), d)
	if !errors.Is(err, core.ErrConcurrentRunRejected) {
		t.Fatalf("got %v, want ErrConcurrentRunRejected", err)
	}

	// The task went back on the queue rather than being lost.
	got, err := f.queue.Receive(context.Background(), []string{"default"}, 100*time.Millisecond)
	if err != nil || got == nil {
		t.Fatalf("requeued task not received: %v, %v", got, err)
	}
	if got.Task.ID != d.Task.ID {
		t.Errorf("requeued task = %s, want %s", got.Task.ID, d.Task.ID)
	}
}

func TestExecuteRunsMiddleware(t *testing.T) {
	t.Parallel()
	var order []string
	mw := func(ctx context.Context, task *bridge.Task, next middleware.Handler) error {
		order = append(order, "before")
		err := next(ctx)
		order = append(order, "after")
		return err
	}
	f := newFixture(t, mw)
	f.registry.Register(core.KindPipeline, func(context.Context, core.EntityRef) (run.Metrics, error) {
		order = append(order, "handler")
		return run.Metrics{}, nil
	})
	d, _ := f.delivery(t, core.Ref(core.KindPipeline, 1))

	if err := f.executor.Execute(context.Background(), d); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := []string{"before", "handler", "after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRegistryRejectsUnknownKind(t *testing.T) {
	t.Parallel()
	r := worker.NewRegistry()
	err := r.Register("widget", func(context.Context, core.EntityRef) (run.Metrics, error) {
		return run.Metrics{}, nil
	})
	if err == nil {
		t.Fatal("Register accepted an unknown kind")
	}
}

// ─────────────────────────────────────────────
// Pool
// ─────────────────────────────────────────────

func TestPoolProcessesTasks(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	done := make(chan core.EntityRef, 4)
	f.registry.Register(core.KindPipeline, func(_ context.Context, target core.EntityRef) (run.Metrics, error) {
		done <- target
		return run.Metrics{}, nil
	})

	pool := worker.NewPool(f.queue, f.executor, slog.Default(),
		worker.WithConcurrency(2),
		worker.WithPollInterval(10*time.Millisecond),
	)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("pool.Start: %v", err)
	}
	defer pool.Stop(context.Background()) //nolint:errcheck

	d, _ := f.delivery(t, core.Ref(core.KindPipeline, 1))
	if err := f.queue.Enqueue(context.Background(), d.Task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case target := <-done:
		if target != d.Task.Target {
			t.Errorf("handled %v, want %v", target, d.Task.Target)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("task never executed")
	}
}

// countingQueue counts deliveries handed out by the wrapped transport.
type countingQueue struct {
	*queue.Memory
	mu       sync.Mutex
	receives int
}

func (q *countingQueue) Receive(ctx context.Context, queues []string, wait time.Duration) (*bridge.Delivery, error) {
	d, err := q.Memory.Receive(ctx, queues, wait)
	if d != nil {
		q.mu.Lock()
		q.receives++
		q.mu.Unlock()
	}
	return d, err
}

func (q *countingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.receives
}

func TestPoolBacksOffWhileEntityRunning(t *testing.T) {
	t.Parallel()
	cq := &countingQueue{Memory: queue.NewMemory()}
	ledger := run.NewLedger(memory.New(), nil, slog.Default())
	registry := worker.NewRegistry()
	registry.Register(core.KindPipeline, func(context.Context, core.EntityRef) (run.Metrics, error) {
		return run.Metrics{}, nil
	})
	executor := worker.NewExecutor(registry, ledger, cq, nil, slog.Default())
	target := core.Ref(core.KindPipeline, 1)
	ctx := context.Background()

	// Hold the entity RUNNING for the whole test.
	blocker, _ := ledger.Create(ctx, target, run.CreateOpts{})
	if _, err := ledger.Start(ctx, blocker.ID); err != nil {
		t.Fatalf("start blocker: %v", err)
	}

	pool := worker.NewPool(cq, executor, slog.Default(),
		worker.WithConcurrency(1),
		worker.WithPollInterval(40*time.Millisecond),
	)
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("pool.Start: %v", err)
	}
	defer pool.Stop(ctx) //nolint:errcheck

	r, _ := ledger.Create(ctx, target, run.CreateOpts{})
	task := &bridge.Task{
		ID:         id.NewTaskID(),
		RunID:      r.ID,
		Target:     target,
		Queue:      "default",
		EnqueuedAt: time.Now().UTC(),
	}
	if err := cq.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Each rejection requeues the task, but the worker must back off by
	// its poll interval before the next delivery instead of spinning.
	time.Sleep(300 * time.Millisecond)
	if got := cq.count(); got > 10 {
		t.Fatalf("task delivered %d times in 300ms, requeue loop is spinning", got)
	}
}

func TestPoolStopWaitsForWorkers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	pool := worker.NewPool(f.queue, f.executor, slog.Default(),
		worker.WithConcurrency(3),
		worker.WithPollInterval(10*time.Millisecond),
	)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("pool.Start: %v", err)
	}
	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("pool.Stop: %v", err)
	}
	// Double stop is a no-op.
	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("second pool.Stop: %v", err)
	}
}
