package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/bridge"
)

// Memory is an in-process transport backed by one channel per queue name.
// Safe for concurrent use. Deliveries stay tracked until acked so tests can
// assert at-least-once bookkeeping; unacked tasks from a crashed in-process
// worker are requeued by Redeliver.
type Memory struct {
	mu       sync.Mutex
	queues   map[string]chan *bridge.Task
	inflight map[string]*bridge.Task
	closed   bool
}

var _ bridge.Queue = (*Memory)(nil)

const memoryQueueDepth = 1024

// NewMemory creates an empty in-memory transport.
func NewMemory() *Memory {
	return &Memory{
		queues:   make(map[string]chan *bridge.Task),
		inflight: make(map[string]*bridge.Task),
	}
}

func (m *Memory) channel(name string) chan *bridge.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.queues[name]
	if !ok {
		ch = make(chan *bridge.Task, memoryQueueDepth)
		m.queues[name] = ch
	}
	return ch
}

// Enqueue makes the task available on its queue.
func (m *Memory) Enqueue(_ context.Context, t *bridge.Task) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return core.ErrQueueClosed
	}
	m.mu.Unlock()

	select {
	case m.channel(t.Queue) <- t:
		return nil
	default:
		return core.ErrQueueUnavailable
	}
}

// Receive blocks up to wait for a task on one of the queues.
func (m *Memory) Receive(ctx context.Context, queues []string, wait time.Duration) (*bridge.Delivery, error) {
	if len(queues) == 0 {
		return nil, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	// Poll across queues; a dedicated select per queue set would need
	// reflection for the general case.
	poll := time.NewTicker(5 * time.Millisecond)
	defer poll.Stop()

	for {
		for _, name := range queues {
			select {
			case t := <-m.channel(name):
				return m.track(t), nil
			default:
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-poll.C:
		}
	}
}

func (m *Memory) track(t *bridge.Task) *bridge.Delivery {
	d := &bridge.Delivery{Task: t, Token: uuid.NewString()}
	m.mu.Lock()
	m.inflight[d.Token] = t
	m.mu.Unlock()
	return d
}

// Ack removes the delivery from redelivery tracking.
func (m *Memory) Ack(_ context.Context, d *bridge.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, d.Token)
	return nil
}

// Redeliver requeues every unacked delivery. Called on recovery after an
// in-process worker died without acking.
func (m *Memory) Redeliver(ctx context.Context) error {
	m.mu.Lock()
	tasks := make([]*bridge.Task, 0, len(m.inflight))
	for _, t := range m.inflight {
		tasks = append(tasks, t)
	}
	m.inflight = make(map[string]*bridge.Task)
	m.mu.Unlock()

	for _, t := range tasks {
		if err := m.Enqueue(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// InflightCount reports the number of unacked deliveries.
func (m *Memory) InflightCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// Close marks the transport closed. Pending tasks are dropped.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
