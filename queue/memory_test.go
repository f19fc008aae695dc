package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/bridge"
	"github.com/datanika-io/datanika-core/id"
	"github.com/datanika-io/datanika-core/queue"
)

func newTask(queueName string) *bridge.Task {
	return &bridge.Task{
		ID:         id.NewTaskID(),
		RunID:      id.NewRunID(),
		Target:     core.Ref(core.KindPipeline, 1),
		Queue:      queueName,
		EnqueuedAt: time.Now().UTC(),
	}
}

func TestMemoryEnqueueReceiveAck(t *testing.T) {
	t.Parallel()
	m := queue.NewMemory()
	ctx := context.Background()

	task := newTask("default")
	if err := m.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	d, err := m.Receive(ctx, []string{"default"}, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if d == nil || d.Task.ID != task.ID {
		t.Fatalf("wrong delivery: %+v", d)
	}
	if d.Token == "" {
		t.Error("delivery has no token")
	}
	if m.InflightCount() != 1 {
		t.Errorf("inflight = %d, want 1", m.InflightCount())
	}

	if err := m.Ack(ctx, d); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	if m.InflightCount() != 0 {
		t.Errorf("inflight after ack = %d, want 0", m.InflightCount())
	}
}

func TestMemoryReceiveTimesOutEmpty(t *testing.T) {
	t.Parallel()
	m := queue.NewMemory()

	start := time.Now()
	d, err := m.Receive(context.Background(), []string{"default"}, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if d != nil {
		t.Fatalf("got delivery %+v from empty queue", d)
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Error("Receive returned before the wait elapsed")
	}
}

func TestMemoryReceiveHonorsContext(t *testing.T) {
	t.Parallel()
	m := queue.NewMemory()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Receive(ctx, []string{"default"}, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestMemoryReceivePollsMultipleQueues(t *testing.T) {
	t.Parallel()
	m := queue.NewMemory()
	ctx := context.Background()

	task := newTask("secondary")
	if err := m.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	d, err := m.Receive(ctx, []string{"default", "secondary"}, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if d == nil || d.Task.Queue != "secondary" {
		t.Fatalf("wrong delivery: %+v", d)
	}
}

func TestMemoryRedeliverRequeuesUnacked(t *testing.T) {
	t.Parallel()
	m := queue.NewMemory()
	ctx := context.Background()

	task := newTask("default")
	if err := m.Enqueue(ctx, task); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	first, err := m.Receive(ctx, []string{"default"}, 100*time.Millisecond)
	if err != nil || first == nil {
		t.Fatalf("first Receive: %v, %v", first, err)
	}

	// The worker dies without acking; redelivery makes the task
	// available again under a fresh token.
	if err := m.Redeliver(ctx); err != nil {
		t.Fatalf("Redeliver: %v", err)
	}
	second, err := m.Receive(ctx, []string{"default"}, 100*time.Millisecond)
	if err != nil || second == nil {
		t.Fatalf("second Receive: %v, %v", second, err)
	}
	if second.Task.ID != task.ID {
		t.Errorf("redelivered task = %s, want %s", second.Task.ID, task.ID)
	}
	if second.Token == first.Token {
		t.Error("redelivery reused the delivery token")
	}
}

func TestMemoryEnqueueAfterClose(t *testing.T) {
	t.Parallel()
	m := queue.NewMemory()
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := m.Enqueue(context.Background(), newTask("default"))
	if !errors.Is(err, core.ErrQueueClosed) {
		t.Fatalf("got %v, want ErrQueueClosed", err)
	}
}

// ─────────────────────────────────────────────
// Manager
// ─────────────────────────────────────────────

func TestManagerUnconfiguredQueueIsUnlimited(t *testing.T) {
	t.Parallel()
	m := queue.NewManager()
	for i := 0; i < 100; i++ {
		if !m.Acquire("anything") {
			t.Fatal("unconfigured queue denied")
		}
	}
}

func TestManagerConcurrencyCap(t *testing.T) {
	t.Parallel()
	m := queue.NewManager(queue.Config{Name: "capped", MaxConcurrency: 2})

	if !m.Acquire("capped") || !m.Acquire("capped") {
		t.Fatal("first two acquires denied")
	}
	if m.Acquire("capped") {
		t.Fatal("third acquire allowed past cap")
	}

	m.Release("capped")
	if !m.Acquire("capped") {
		t.Fatal("acquire denied after release")
	}
}

func TestManagerRateLimit(t *testing.T) {
	t.Parallel()
	// 1 task/sec with burst 2: two immediate acquires, then denial.
	m := queue.NewManager(queue.Config{Name: "slow", RateLimit: 1, RateBurst: 2})

	if !m.Acquire("slow") || !m.Acquire("slow") {
		t.Fatal("burst acquires denied")
	}
	if m.Acquire("slow") {
		t.Fatal("acquire allowed past rate limit")
	}
}
