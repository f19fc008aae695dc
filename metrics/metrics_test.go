package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/bridge"
	"github.com/datanika-io/datanika-core/id"
	"github.com/datanika-io/datanika-core/metrics"
	"github.com/datanika-io/datanika-core/run"
)

// gatherValue returns the summed value of all series in the named family.
func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var total float64
		for _, m := range f.GetMetric() {
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				total += g.GetValue()
			}
		}
		return total
	}
	return 0
}

func TestExtensionCountsRunLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	ext := metrics.New(reg)
	ctx := context.Background()

	started := time.Now().UTC()
	r := &run.Run{
		ID:         id.NewRunID(),
		Target:     core.Ref(core.KindPipeline, 7),
		Status:     run.StatusRunning,
		StartedAt:  &started,
		RowsLoaded: 1200,
	}

	if err := ext.OnRunCreated(ctx, r); err != nil {
		t.Fatalf("OnRunCreated: %v", err)
	}
	if err := ext.OnRunStarted(ctx, r); err != nil {
		t.Fatalf("OnRunStarted: %v", err)
	}
	if err := ext.OnRunCompleted(ctx, r, 2*time.Second); err != nil {
		t.Fatalf("OnRunCompleted: %v", err)
	}

	if got := gatherValue(t, reg, "datanika_runs_created_total"); got != 1 {
		t.Errorf("runs_created_total = %v, want 1", got)
	}
	if got := gatherValue(t, reg, "datanika_runs_finished_total"); got != 1 {
		t.Errorf("runs_finished_total = %v, want 1", got)
	}
	if got := gatherValue(t, reg, "datanika_rows_loaded_total"); got != 1200 {
		t.Errorf("rows_loaded_total = %v, want 1200", got)
	}
}

func TestExtensionActiveGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	ext := metrics.New(reg)
	ctx := context.Background()

	started := time.Now().UTC()
	r := &run.Run{
		ID:        id.NewRunID(),
		Target:    core.Ref(core.KindTransformation, 3),
		StartedAt: &started,
	}

	ext.OnRunStarted(ctx, r)
	ext.OnRunStarted(ctx, r)
	ext.OnRunFailed(ctx, r, "boom")

	if got := gatherValue(t, reg, "datanika_runs_active"); got != 1 {
		t.Fatalf("runs_active = %v, want 1", got)
	}
}

func TestExtensionFailBeforeStartKeepsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	ext := metrics.New(reg)

	// Never started, so the active gauge must stay untouched.
	r := &run.Run{
		ID:     id.NewRunID(),
		Target: core.Ref(core.KindPipeline, 1),
	}
	ext.OnRunFailed(context.Background(), r, "dispatch exhausted")

	if got := gatherValue(t, reg, "datanika_runs_active"); got != 0 {
		t.Fatalf("runs_active = %v, want 0", got)
	}
}

func TestExtensionCountsDispatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	ext := metrics.New(reg)
	ctx := context.Background()

	target := core.Ref(core.KindPipeline, 9)
	task := &bridge.Task{
		ID:     id.NewTaskID(),
		RunID:  id.NewRunID(),
		Target: target,
		Queue:  "etl",
	}
	ext.OnTaskDispatched(ctx, task)
	ext.OnDispatchRejected(ctx, target)
	ext.OnDispatchRejected(ctx, target)

	if got := gatherValue(t, reg, "datanika_tasks_dispatched_total"); got != 1 {
		t.Errorf("tasks_dispatched_total = %v, want 1", got)
	}
	if got := gatherValue(t, reg, "datanika_dispatch_rejections_total"); got != 2 {
		t.Errorf("dispatch_rejections_total = %v, want 2", got)
	}
}
