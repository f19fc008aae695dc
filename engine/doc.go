// Package engine wires all datanika-core subsystems together: the
// dependency graph, run ledger, schedule registry and scheduler, task queue
// bridge, worker pool, and orchestrator.
//
// This package exists to break the import cycle: the root core package
// defines the shared vocabulary (EntityRef, errors, Config) imported by
// every subsystem and so cannot import those packages back. The engine
// package sits above all subsystem packages and below the application
// layer.
//
//	cfg, _ := core.ParseConfig()
//	eng, err := engine.New(cfg,
//	    engine.WithStore(memory.New()),
//	    engine.WithHandler(core.KindPipeline, runPipeline),
//	    engine.WithHandler(core.KindTransformation, runTransformation),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop(ctx)
//
//	eng.TriggerEntity(ctx, core.Ref(core.KindPipeline, 42))
package engine
