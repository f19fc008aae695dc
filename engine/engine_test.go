package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/engine"
	"github.com/datanika-io/datanika-core/run"
	"github.com/datanika-io/datanika-core/store/memory"
	"github.com/datanika-io/datanika-core/worker"
)

func testConfig() core.Config {
	cfg := core.DefaultConfig()
	cfg.Concurrency = 2
	cfg.PollInterval = 10 * time.Millisecond
	cfg.TickInterval = 10 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// recordingHandler counts executions per target and returns a fixed result.
type recordingHandler struct {
	mu   sync.Mutex
	seen []core.EntityRef
	fail map[core.EntityRef]bool
	rows int64
}

func (h *recordingHandler) handle(ctx context.Context, target core.EntityRef) (run.Metrics, error) {
	h.mu.Lock()
	h.seen = append(h.seen, target)
	shouldFail := h.fail[target]
	h.mu.Unlock()
	if shouldFail {
		return run.Metrics{}, errors.New("handler failed")
	}
	return run.Metrics{RowsLoaded: h.rows, Log: "done"}, nil
}

func (h *recordingHandler) executions(target core.EntityRef) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ref := range h.seen {
		if ref == target {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition never met: %s", msg)
}

func newEngine(t *testing.T, h *recordingHandler) *engine.Engine {
	t.Helper()
	eng, err := engine.New(testConfig(),
		engine.WithStore(memory.New()),
		engine.WithHandler(core.KindPipeline, worker.Handler(h.handle)),
		engine.WithHandler(core.KindTransformation, worker.Handler(h.handle)),
	)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("engine.Start: %v", err)
	}
	t.Cleanup(func() {
		if err := eng.Stop(context.Background()); err != nil {
			t.Errorf("engine.Stop: %v", err)
		}
	})
	return eng
}

func TestNewRequiresStore(t *testing.T) {
	t.Parallel()
	_, err := engine.New(testConfig())
	if !errors.Is(err, core.ErrNoStore) {
		t.Fatalf("got %v, want ErrNoStore", err)
	}
}

func TestEngineRunsSingleEntity(t *testing.T) {
	t.Parallel()
	h := &recordingHandler{rows: 512}
	eng := newEngine(t, h)
	ctx := context.Background()
	target := core.Ref(core.KindPipeline, 1)

	r, err := eng.TriggerEntity(ctx, target)
	if err != nil {
		t.Fatalf("TriggerEntity: %v", err)
	}

	waitFor(t, func() bool {
		got, err := eng.Ledger().Get(ctx, r.ID)
		return err == nil && got.Status == run.StatusSuccess
	}, "run reached success")

	got, _ := eng.Ledger().Get(ctx, r.ID)
	if got.RowsLoaded != 512 || got.Log != "done" {
		t.Errorf("metrics not recorded: %+v", got)
	}
	if h.executions(target) != 1 {
		t.Errorf("handler ran %d times, want 1", h.executions(target))
	}
}

func TestEngineRunsGroupInOrder(t *testing.T) {
	t.Parallel()
	h := &recordingHandler{}
	eng := newEngine(t, h)
	ctx := context.Background()

	a := core.Ref(core.KindPipeline, 1)
	b := core.Ref(core.KindTransformation, 2)
	if _, err := eng.Graph().AddEdge(ctx, a, b); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	groupID, runs, err := eng.TriggerGroup(ctx, a)
	if err != nil {
		t.Fatalf("TriggerGroup: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("created %d runs, want 2", len(runs))
	}

	waitFor(t, func() bool {
		list, err := eng.Ledger().List(ctx, run.ListOpts{GroupID: groupID, Status: run.StatusSuccess})
		return err == nil && len(list) == 2
	}, "both group members succeeded")

	// b must have run after a.
	h.mu.Lock()
	defer h.mu.Unlock()
	aIdx, bIdx := -1, -1
	for i, ref := range h.seen {
		if ref == a && aIdx == -1 {
			aIdx = i
		}
		if ref == b && bIdx == -1 {
			bIdx = i
		}
	}
	if aIdx == -1 || bIdx == -1 || bIdx < aIdx {
		t.Errorf("execution order wrong: %v", h.seen)
	}
}

func TestEngineSkipsDownstreamOnFailure(t *testing.T) {
	t.Parallel()
	a := core.Ref(core.KindPipeline, 1)
	b := core.Ref(core.KindTransformation, 2)
	h := &recordingHandler{fail: map[core.EntityRef]bool{a: true}}
	eng := newEngine(t, h)
	ctx := context.Background()

	if _, err := eng.Graph().AddEdge(ctx, a, b); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	groupID, _, err := eng.TriggerGroup(ctx, a)
	if err != nil {
		t.Fatalf("TriggerGroup: %v", err)
	}

	waitFor(t, func() bool {
		list, err := eng.Ledger().List(ctx, run.ListOpts{GroupID: groupID})
		if err != nil || len(list) != 2 {
			return false
		}
		var failed, cancelled bool
		for _, r := range list {
			switch {
			case r.Target == a && r.Status == run.StatusFailed:
				failed = true
			case r.Target == b && r.Status == run.StatusCancelled:
				cancelled = true
			}
		}
		return failed && cancelled
	}, "a failed and b skipped to cancelled")

	if h.executions(b) != 0 {
		t.Errorf("skipped member b executed %d times", h.executions(b))
	}
}

func TestEngineFiresSchedule(t *testing.T) {
	t.Parallel()
	h := &recordingHandler{}
	eng := newEngine(t, h)
	ctx := context.Background()
	target := core.Ref(core.KindPipeline, 7)

	// Every-minute schedule; force the trigger due immediately by syncing
	// and then waiting for the scheduler to catch the next minute is too
	// slow, so fire through the orchestrator path instead.
	sc, err := eng.Schedules().Create(ctx, core.Entity(target), "* * * * *", "UTC", true)
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	tr, err := eng.Schedules().Trigger(ctx, sc.ID)
	if err != nil {
		t.Fatalf("load trigger: %v", err)
	}

	if err := eng.Orchestrator().FireSchedule(ctx, tr); err != nil {
		t.Fatalf("FireSchedule: %v", err)
	}

	waitFor(t, func() bool {
		list, err := eng.Ledger().List(ctx, run.ListOpts{Schedule: sc.ID, Status: run.StatusSuccess})
		return err == nil && len(list) == 1
	}, "scheduled run succeeded with schedule provenance")
}

func TestEngineConcurrentTriggersSerializePerEntity(t *testing.T) {
	t.Parallel()
	h := &recordingHandler{}
	eng := newEngine(t, h)
	ctx := context.Background()
	target := core.Ref(core.KindTransformation, 3)

	const n = 5
	for i := 0; i < n; i++ {
		// Rejected triggers are expected; only the ledger invariant
		// matters here.
		eng.TriggerEntity(ctx, target) //nolint:errcheck
	}

	waitFor(t, func() bool {
		list, err := eng.Ledger().List(ctx, run.ListOpts{Target: &target})
		if err != nil || len(list) == 0 {
			return false
		}
		for _, r := range list {
			if !r.Status.Terminal() {
				return false
			}
		}
		return true
	}, "all runs reached terminal state")

	list, _ := eng.Ledger().List(ctx, run.ListOpts{Target: &target, Status: run.StatusRunning})
	if len(list) != 0 {
		t.Fatalf("%d runs left RUNNING", len(list))
	}
}
