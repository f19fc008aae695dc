package bridge_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/backoff"
	"github.com/datanika-io/datanika-core/bridge"
	"github.com/datanika-io/datanika-core/run"
	"github.com/datanika-io/datanika-core/store/memory"
)

// flakyQueue fails the first failures enqueues with ErrQueueUnavailable.
type flakyQueue struct {
	mu       sync.Mutex
	failures int
	enqueued []*bridge.Task
}

func (q *flakyQueue) Enqueue(_ context.Context, t *bridge.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failures > 0 {
		q.failures--
		return core.ErrQueueUnavailable
	}
	q.enqueued = append(q.enqueued, t)
	return nil
}

func (q *flakyQueue) Receive(context.Context, []string, time.Duration) (*bridge.Delivery, error) {
	return nil, nil
}

func (q *flakyQueue) Ack(context.Context, *bridge.Delivery) error { return nil }
func (q *flakyQueue) Close() error                                { return nil }

func (q *flakyQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.enqueued)
}

func newBridge(t *testing.T, q bridge.Queue, opts ...bridge.Option) (*bridge.Bridge, *run.Ledger) {
	t.Helper()
	ledger := run.NewLedger(memory.New(), nil, slog.Default())
	base := []bridge.Option{
		bridge.WithAttempts(3),
		bridge.WithBackoff(backoff.NewConstant(time.Millisecond)),
	}
	return bridge.New(q, ledger, slog.Default(), append(base, opts...)...), ledger
}

func TestDispatchEnqueuesTask(t *testing.T) {
	t.Parallel()
	q := &flakyQueue{}
	b, ledger := newBridge(t, q)
	ctx := context.Background()

	r, err := ledger.Create(ctx, core.Ref(core.KindPipeline, 1), run.CreateOpts{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	h, err := b.Dispatch(ctx, r)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if h.RunID != r.ID {
		t.Errorf("handle run = %s, want %s", h.RunID, r.ID)
	}
	if q.count() != 1 {
		t.Fatalf("enqueued %d tasks, want 1", q.count())
	}
	q.mu.Lock()
	task := q.enqueued[0]
	q.mu.Unlock()
	if task.RunID != r.ID || task.Target != r.Target {
		t.Errorf("task = %+v", task)
	}
}

func TestDispatchRejectsWhileTargetRunning(t *testing.T) {
	t.Parallel()
	q := &flakyQueue{}
	b, ledger := newBridge(t, q)
	ctx := context.Background()
	target := core.Ref(core.KindPipeline, 1)

	first, _ := ledger.Create(ctx, target, run.CreateOpts{})
	if _, err := ledger.Start(ctx, first.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	second, _ := ledger.Create(ctx, target, run.CreateOpts{})
	_, err := b.Dispatch(ctx, second)
	if !errors.Is(err, core.ErrConcurrentRunRejected) {
		t.Fatalf("got %v, want ErrConcurrentRunRejected", err)
	}
	if q.count() != 0 {
		t.Errorf("rejected dispatch still enqueued %d tasks", q.count())
	}
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	q := &flakyQueue{failures: 2}
	b, ledger := newBridge(t, q)
	ctx := context.Background()

	r, _ := ledger.Create(ctx, core.Ref(core.KindPipeline, 1), run.CreateOpts{})
	if _, err := b.Dispatch(ctx, r); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if q.count() != 1 {
		t.Errorf("enqueued %d tasks, want 1", q.count())
	}
}

func TestDispatchExhaustionFailsRun(t *testing.T) {
	t.Parallel()
	q := &flakyQueue{failures: 10}
	b, ledger := newBridge(t, q)
	ctx := context.Background()

	r, _ := ledger.Create(ctx, core.Ref(core.KindPipeline, 1), run.CreateOpts{})
	_, err := b.Dispatch(ctx, r)
	if !errors.Is(err, core.ErrQueueUnavailable) {
		t.Fatalf("got %v, want ErrQueueUnavailable", err)
	}

	// The run must not be stranded in PENDING.
	got, err := ledger.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != run.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.Error == "" {
		t.Error("exhaustion left no error detail")
	}
}

func TestDispatchPermanentErrorDoesNotRetry(t *testing.T) {
	t.Parallel()
	q := &permanentQueue{}
	b, ledger := newBridge(t, q)
	ctx := context.Background()

	r, _ := ledger.Create(ctx, core.Ref(core.KindPipeline, 1), run.CreateOpts{})
	_, err := b.Dispatch(ctx, r)
	if err == nil {
		t.Fatal("Dispatch succeeded against a broken transport")
	}
	if q.calls != 1 {
		t.Errorf("enqueue called %d times, want 1 for a permanent error", q.calls)
	}
}

// permanentQueue always fails with a non-transient error.
type permanentQueue struct {
	calls int
}

func (q *permanentQueue) Enqueue(context.Context, *bridge.Task) error {
	q.calls++
	return errors.New("serialization broken")
}

func (q *permanentQueue) Receive(context.Context, []string, time.Duration) (*bridge.Delivery, error) {
	return nil, nil
}

func (q *permanentQueue) Ack(context.Context, *bridge.Delivery) error { return nil }
func (q *permanentQueue) Close() error                                { return nil }

func TestNotifyCompletionNeverBlocksWithoutConsumer(t *testing.T) {
	t.Parallel()
	b, ledger := newBridge(t, &flakyQueue{})
	ctx := context.Background()
	r, _ := ledger.Create(ctx, core.Ref(core.KindPipeline, 1), run.CreateOpts{})

	// Nothing drains Completions; overflow must drop, not wedge the
	// reporting goroutine.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			b.NotifyCompletion(bridge.Completion{RunID: r.ID, Target: r.Target, Status: run.StatusSuccess})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("NotifyCompletion blocked on a full channel")
	}
}

func TestCompletionsRoundTrip(t *testing.T) {
	t.Parallel()
	b, ledger := newBridge(t, &flakyQueue{})
	ctx := context.Background()

	r, _ := ledger.Create(ctx, core.Ref(core.KindPipeline, 1), run.CreateOpts{})
	want := bridge.Completion{RunID: r.ID, Target: r.Target, Status: run.StatusSuccess}
	b.NotifyCompletion(want)

	select {
	case got := <-b.Completions():
		if got != want {
			t.Errorf("completion = %+v, want %+v", got, want)
		}
	case <-time.After(time.Second):
		t.Fatal("completion never delivered")
	}
}
