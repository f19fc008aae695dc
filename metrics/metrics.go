// Package metrics exposes orchestration counters and histograms through
// Prometheus. The Extension type plugs into the ext registry and observes
// run lifecycle events without touching the hot path.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/bridge"
	"github.com/datanika-io/datanika-core/run"
	"github.com/datanika-io/datanika-core/schedule"
)

// Extension records Prometheus metrics for run lifecycle events.
type Extension struct {
	runsCreated     *prometheus.CounterVec
	runsFinished    *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	runsActive      prometheus.Gauge
	tasksDispatched *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	scheduleFires   prometheus.Counter
	rowsLoaded      *prometheus.CounterVec
}

// New creates the extension and registers its collectors with reg. Pass
// prometheus.DefaultRegisterer for the process-wide registry.
func New(reg prometheus.Registerer) *Extension {
	factory := promauto.With(reg)
	return &Extension{
		runsCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datanika_runs_created_total",
				Help: "Total number of runs created",
			},
			[]string{"kind"},
		),
		runsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datanika_runs_finished_total",
				Help: "Total number of runs reaching a terminal status",
			},
			[]string{"kind", "status"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "datanika_run_duration_seconds",
				Help:    "Run execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"kind"},
		),
		runsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "datanika_runs_active",
				Help: "Number of runs currently executing",
			},
		),
		tasksDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datanika_tasks_dispatched_total",
				Help: "Total number of tasks handed to the queue",
			},
			[]string{"kind", "queue"},
		),
		rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datanika_dispatch_rejections_total",
				Help: "Dispatches rejected because the entity already had a running run",
			},
			[]string{"kind"},
		),
		scheduleFires: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "datanika_schedule_fires_total",
				Help: "Total number of schedule trigger fires",
			},
		),
		rowsLoaded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datanika_rows_loaded_total",
				Help: "Total rows loaded by successful runs",
			},
			[]string{"kind"},
		),
	}
}

// Name identifies the extension in registry logs.
func (e *Extension) Name() string { return "metrics" }

// OnRunCreated counts run creation by entity kind.
func (e *Extension) OnRunCreated(ctx context.Context, r *run.Run) error {
	e.runsCreated.WithLabelValues(string(r.Target.Kind)).Inc()
	return nil
}

// OnRunStarted tracks the active run gauge.
func (e *Extension) OnRunStarted(ctx context.Context, r *run.Run) error {
	e.runsActive.Inc()
	return nil
}

// OnRunCompleted records duration and terminal status for a successful run.
func (e *Extension) OnRunCompleted(ctx context.Context, r *run.Run, elapsed time.Duration) error {
	kind := string(r.Target.Kind)
	e.runsActive.Dec()
	e.runsFinished.WithLabelValues(kind, string(run.StatusSuccess)).Inc()
	e.runDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	if r.RowsLoaded > 0 {
		e.rowsLoaded.WithLabelValues(kind).Add(float64(r.RowsLoaded))
	}
	return nil
}

// OnRunFailed records a failed terminal status.
func (e *Extension) OnRunFailed(ctx context.Context, r *run.Run, errMsg string) error {
	// A run can fail before it ever started; only started runs held the gauge.
	if r.StartedAt != nil {
		e.runsActive.Dec()
	}
	e.runsFinished.WithLabelValues(string(r.Target.Kind), string(run.StatusFailed)).Inc()
	return nil
}

// OnRunCancelled records a cancelled terminal status.
func (e *Extension) OnRunCancelled(ctx context.Context, r *run.Run) error {
	if r.StartedAt != nil {
		e.runsActive.Dec()
	}
	e.runsFinished.WithLabelValues(string(r.Target.Kind), string(run.StatusCancelled)).Inc()
	return nil
}

// OnTaskDispatched counts tasks handed to the queue.
func (e *Extension) OnTaskDispatched(ctx context.Context, t *bridge.Task) error {
	e.tasksDispatched.WithLabelValues(string(t.Target.Kind), t.Queue).Inc()
	return nil
}

// OnDispatchRejected counts concurrency rejections.
func (e *Extension) OnDispatchRejected(ctx context.Context, target core.EntityRef) error {
	e.rejections.WithLabelValues(string(target.Kind)).Inc()
	return nil
}

// OnScheduleFired counts trigger fires.
func (e *Extension) OnScheduleFired(ctx context.Context, t *schedule.Trigger) error {
	e.scheduleFires.Inc()
	return nil
}
