package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/backoff"
	"github.com/datanika-io/datanika-core/bridge"
	"github.com/datanika-io/datanika-core/ext"
	"github.com/datanika-io/datanika-core/graph"
	"github.com/datanika-io/datanika-core/id"
	mw "github.com/datanika-io/datanika-core/middleware"
	"github.com/datanika-io/datanika-core/orchestrator"
	"github.com/datanika-io/datanika-core/queue"
	"github.com/datanika-io/datanika-core/run"
	"github.com/datanika-io/datanika-core/schedule"
	"github.com/datanika-io/datanika-core/store"
	"github.com/datanika-io/datanika-core/worker"
)

// Engine wires every subsystem together and owns the process lifecycle.
// Use New to create one from a Config and a Store.
type Engine struct {
	cfg    core.Config
	store  store.Store
	logger *slog.Logger

	extensions *ext.Registry
	registry   *worker.Registry
	graph      *graph.Service
	ledger     *run.Ledger
	schedules  *schedule.Registry
	scheduler  *schedule.Scheduler
	bridge     *bridge.Bridge
	pool       *worker.Pool
	orch       *orchestrator.Orchestrator
	transport  bridge.Queue

	bo             backoff.Strategy
	mws            []mw.Middleware
	queueConfigs   []queue.Config
	clock          schedule.Clock
	tracerProvider trace.TracerProvider

	handlers map[core.Kind]worker.Handler

	started bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithStore sets the persistence backend. Required.
func WithStore(s store.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithQueue sets the task transport. Defaults to the in-memory transport.
func WithQueue(q bridge.Queue) Option {
	return func(e *Engine) { e.transport = q }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithHandler registers the execution handler for an entity kind.
func WithHandler(kind core.Kind, h worker.Handler) Option {
	return func(e *Engine) { e.handlers[kind] = h }
}

// WithExtension registers a lifecycle extension.
func WithExtension(x ext.Extension) Option {
	return func(e *Engine) { e.extensions.Register(x) }
}

// WithMiddleware appends middleware to the execution chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, m) }
}

// WithBackoff sets the dispatch retry strategy. Defaults to exponential
// with jitter.
func WithBackoff(b backoff.Strategy) Option {
	return func(e *Engine) { e.bo = b }
}

// WithQueueConfig registers per-queue rate limiting and concurrency caps.
// Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(e *Engine) { e.queueConfigs = append(e.queueConfigs, configs...) }
}

// WithClock injects the scheduler clock. Defaults to the system clock.
func WithClock(c schedule.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. When unset, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// New builds an Engine from configuration and options.
func New(cfg core.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:      cfg,
		logger:   slog.Default(),
		clock:    schedule.SystemClock{},
		handlers: make(map[core.Kind]worker.Handler),
	}
	e.extensions = ext.NewRegistry(e.logger)

	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		return nil, core.ErrNoStore
	}
	if e.transport == nil {
		e.transport = queue.NewMemory()
	}
	if e.bo == nil {
		e.bo = backoff.Default()
	}

	e.registry = worker.NewRegistry()
	for kind, h := range e.handlers {
		if err := e.registry.Register(kind, h); err != nil {
			return nil, fmt.Errorf("engine: register handler: %w", err)
		}
	}

	e.ledger = run.NewLedger(e.store, e.extensions, e.logger)
	e.graph = graph.NewService(e.store, e.logger)
	e.schedules = schedule.NewRegistry(e.store, e.clock, e.logger)

	e.bridge = bridge.New(e.transport, e.ledger, e.logger,
		bridge.WithQueueName(cfg.Queue),
		bridge.WithAttempts(cfg.DispatchAttempts),
		bridge.WithBackoff(e.bo),
		bridge.WithEmitter(e.extensions),
	)

	e.orch = orchestrator.New(e.graph, e.ledger, e.bridge, e.logger,
		orchestrator.WithEmitter(e.extensions),
	)

	e.scheduler = schedule.NewScheduler(e.store, e.orch.FireSchedule, e.orch.HasRunningTarget, e.logger,
		schedule.WithTickInterval(cfg.TickInterval),
		schedule.WithMisfireGrace(cfg.MisfireGrace),
		schedule.WithClock(e.clock),
	)

	// Default middleware stack: recover → tracing → logging, then user
	// middleware innermost.
	var tracingMw mw.Middleware
	if e.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(e.tracerProvider.Tracer("github.com/datanika-io/datanika-core"))
	} else {
		tracingMw = mw.Tracing()
	}
	allMws := append([]mw.Middleware{
		mw.Recover(e.logger),
		tracingMw,
		mw.Logging(e.logger),
	}, e.mws...)

	executor := worker.NewExecutor(e.registry, e.ledger, e.transport, e.bridge, e.logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithConcurrency(cfg.Concurrency),
		worker.WithQueues([]string{cfg.Queue}),
		worker.WithPollInterval(cfg.PollInterval),
	}
	if len(e.queueConfigs) > 0 {
		poolOpts = append(poolOpts, worker.WithLimiter(queue.NewManager(e.queueConfigs...)))
	}
	e.pool = worker.NewPool(e.transport, executor, e.logger, poolOpts...)

	return e, nil
}

// Start brings the engine up: migrate the store, reconcile schedule
// triggers, start the scheduler and worker pool, and begin consuming
// completion events.
func (e *Engine) Start(ctx context.Context) error {
	if e.started {
		return nil
	}

	if err := e.store.Migrate(ctx); err != nil {
		return fmt.Errorf("engine: migrate: %w", err)
	}

	synced, err := e.schedules.SyncAll(ctx)
	if err != nil {
		return fmt.Errorf("engine: sync schedules: %w", err)
	}
	e.logger.Info("schedule triggers reconciled", slog.Int("synced", synced))

	if err := e.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("engine: start scheduler: %w", err)
	}
	if err := e.pool.Start(ctx); err != nil {
		return fmt.Errorf("engine: start worker pool: %w", err)
	}

	e.orch.Start(e.bridge.Completions())

	e.started = true
	e.logger.Info("engine started",
		slog.String("queue", e.cfg.Queue),
		slog.Int("concurrency", e.cfg.Concurrency),
	)
	return nil
}

// Stop shuts the engine down in reverse order: scheduler first so no new
// fires arrive, then the worker pool, then the completion loop.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.started {
		return nil
	}
	e.started = false

	if err := e.scheduler.Stop(ctx); err != nil {
		e.logger.Error("scheduler stop", slog.String("error", err.Error()))
	}

	stopCtx, cancel := context.WithTimeout(ctx, e.cfg.ShutdownTimeout)
	defer cancel()
	if err := e.pool.Stop(stopCtx); err != nil {
		e.logger.Error("worker pool stop", slog.String("error", err.Error()))
	}

	e.orch.Stop()
	e.extensions.EmitShutdown(ctx)

	if err := e.transport.Close(); err != nil {
		e.logger.Error("transport close", slog.String("error", err.Error()))
	}

	e.logger.Info("engine stopped")
	return nil
}

// ──────────────────────────────────────────────────
// Subsystem access and pass-throughs
// ──────────────────────────────────────────────────

// TriggerEntity creates and dispatches a single run for ref.
func (e *Engine) TriggerEntity(ctx context.Context, ref core.EntityRef) (*run.Run, error) {
	return e.orch.TriggerEntity(ctx, ref, run.CreateOpts{})
}

// TriggerGroup expands ref's downstream DAG closure and runs it as a group.
func (e *Engine) TriggerGroup(ctx context.Context, root core.EntityRef) (id.GroupID, []*run.Run, error) {
	return e.orch.TriggerGroup(ctx, root, run.CreateOpts{})
}

// Graph returns the dependency graph service.
func (e *Engine) Graph() *graph.Service { return e.graph }

// Ledger returns the run ledger.
func (e *Engine) Ledger() *run.Ledger { return e.ledger }

// Schedules returns the schedule registry.
func (e *Engine) Schedules() *schedule.Registry { return e.schedules }

// Orchestrator returns the orchestrator.
func (e *Engine) Orchestrator() *orchestrator.Orchestrator { return e.orch }

// Extensions returns the extension registry.
func (e *Engine) Extensions() *ext.Registry { return e.extensions }

// Pool returns the worker pool.
func (e *Engine) Pool() *worker.Pool { return e.pool }
