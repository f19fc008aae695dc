package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/bridge"
	"github.com/datanika-io/datanika-core/id"
)

// Limiter gates task execution per queue. queue.Manager satisfies it.
type Limiter interface {
	Acquire(queue string) bool
	Release(queue string)
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of concurrent worker goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithQueues sets the queues the pool polls.
func WithQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how long each receive blocks before re-polling.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithLimiter sets the per-queue rate/concurrency limiter.
func WithLimiter(l Limiter) PoolOption {
	return func(p *Pool) { p.limiter = l }
}

// Pool manages concurrent worker goroutines that receive tasks from the
// transport and execute them through the Executor. Workers across a pool
// run different entities in parallel; execution of a single entity stays
// serialized by the ledger's Start transition.
type Pool struct {
	queue    bridge.Queue
	executor *Executor
	workerID id.WorkerID
	logger   *slog.Logger

	concurrency  int
	queues       []string
	pollInterval time.Duration
	limiter      Limiter

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	activeMu sync.Mutex
	active   map[string]context.CancelFunc
}

// NewPool creates a worker pool.
func NewPool(queue bridge.Queue, executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		queue:        queue,
		executor:     executor,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		concurrency:  10,
		queues:       []string{"default"},
		pollInterval: time.Second,
		stopCh:       make(chan struct{}),
		active:       make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines and returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)
	for range p.concurrency {
		p.wg.Add(1)
		go p.receiveLoop()
	}
	return nil
}

// Stop signals all workers to stop and waits for them. If ctx expires
// first, in-flight task contexts are cancelled and the wait resumes.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active tasks")
		p.cancelActive()
		p.wg.Wait()
	}
	return nil
}

// Cancel aborts a specific in-flight run's context, if this pool is
// executing it. Best-effort: the handler decides how quickly it reacts.
func (p *Pool) Cancel(runID id.RunID) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	cancel, ok := p.active[runID.String()]
	if ok {
		cancel()
	}
	return ok
}

func (p *Pool) receiveLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		d, err := p.queue.Receive(context.Background(), p.queues, p.pollInterval)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				p.logger.Error("receive error", slog.String("error", err.Error()))
			}
			p.sleep()
			continue
		}
		if d == nil {
			continue
		}

		p.process(d)
	}
}

func (p *Pool) process(d *bridge.Delivery) {
	t := d.Task

	if p.limiter != nil && !p.limiter.Acquire(t.Queue) {
		// Over the queue's limit: put the task back and back off.
		if err := p.queue.Enqueue(context.Background(), t); err != nil {
			p.logger.Error("failed to requeue rate-limited task",
				slog.String("task_id", t.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		p.ack(d)
		p.sleep()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.trackActive(t.RunID.String(), cancel)

	execErr := p.executor.Execute(ctx, d)
	if execErr != nil && !errors.Is(execErr, core.ErrAlreadyHandled) {
		p.logger.Debug("task execution finished with error",
			slog.String("task_id", t.ID.String()),
			slog.String("run_id", t.RunID.String()),
			slog.String("error", execErr.Error()),
		)
	}

	p.untrackActive(t.RunID.String())
	cancel()

	// Always acknowledge: terminal outcomes are recorded in the ledger
	// and rejected tasks were re-enqueued as fresh deliveries.
	p.ack(d)

	if p.limiter != nil {
		p.limiter.Release(t.Queue)
	}

	// The rejected task was requeued and the conflicting run may hold the
	// entity for a while; back off instead of spinning on it.
	if errors.Is(execErr, core.ErrConcurrentRunRejected) {
		p.sleep()
	}
}

func (p *Pool) ack(d *bridge.Delivery) {
	if err := p.queue.Ack(context.Background(), d); err != nil {
		p.logger.Error("ack failed",
			slog.String("task_id", d.Task.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) trackActive(key string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[key] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackActive(key string) {
	p.activeMu.Lock()
	delete(p.active, key)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for _, cancel := range p.active {
		cancel()
	}
}

func (p *Pool) sleep() {
	select {
	case <-p.stopCh:
	case <-time.After(p.pollInterval):
	}
}
