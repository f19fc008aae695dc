// Package core is the orchestration engine for Datanika data pipelines and
// transformations. It tracks dependencies between orchestrable entities,
// decides when each may run (manually or by cron schedule), enforces that no
// entity runs concurrently with itself, records the full lifecycle of every
// execution attempt, and hands work to an asynchronous worker pool.
//
// The engine is a library, not a service. Configure a store, register
// handlers for each entity kind, and drive it through the engine package:
//
//	eng, err := engine.New(cfg,
//	    engine.WithStore(memory.New()),
//	    engine.WithHandler(core.KindPipeline, runPipeline),
//	)
//
// # Architecture
//
// Each subsystem (graph, run, schedule) defines its own store interface; a
// single backend implements all of them (store/memory for tests and
// development, store/postgres for production). Execution flows one way: a
// trigger reaches the orchestrator, the dependency graph expands it to an
// ordered set of entities, the run ledger creates PENDING runs, the task
// queue bridge dispatches them, and worker completions flow back to the
// orchestrator over a channel.
//
// This package holds only the shared vocabulary: entity references, the
// error taxonomy, and configuration.
package core
