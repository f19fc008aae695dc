package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/graph"
	"github.com/datanika-io/datanika-core/id"
	"github.com/datanika-io/datanika-core/run"
	"github.com/datanika-io/datanika-core/schedule"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ graph.Store    = (*Store)(nil)
	_ run.Store      = (*Store)(nil)
	_ schedule.Store = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	edges     map[string]*graph.Edge
	runs      map[string]*run.Run
	schedules map[string]*schedule.Schedule
	triggers  map[string]*schedule.Trigger

	// seq orders runs created within the same wall-clock instant so
	// newest-first listings stay deterministic.
	seq    uint64
	runSeq map[string]uint64
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		edges:     make(map[string]*graph.Edge),
		runs:      make(map[string]*run.Run),
		schedules: make(map[string]*schedule.Schedule),
		triggers:  make(map[string]*schedule.Trigger),
		runSeq:    make(map[string]uint64),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Graph Store
// ──────────────────────────────────────────────────

// InsertEdge persists a new edge.
func (m *Store) InsertEdge(_ context.Context, e *graph.Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	m.edges[e.ID.String()] = &cp
	return nil
}

// GetEdge retrieves an edge by ID, tombstoned or not.
func (m *Store) GetEdge(_ context.Context, edgeID id.EdgeID) (*graph.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.edges[edgeID.String()]
	if !ok {
		return nil, core.ErrEdgeNotFound
	}
	cp := *e
	return &cp, nil
}

// ListEdges returns all live (non-tombstoned) edges.
func (m *Store) ListEdges(_ context.Context) ([]*graph.Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*graph.Edge, 0, len(m.edges))
	for _, e := range m.edges {
		if !e.Live() {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].ID.String() < out[k].ID.String()
	})
	return out, nil
}

// TombstoneEdge soft-deletes an edge.
func (m *Store) TombstoneEdge(_ context.Context, edgeID id.EdgeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.edges[edgeID.String()]
	if !ok || !e.Live() {
		return core.ErrEdgeNotFound
	}
	now := time.Now().UTC()
	e.DeletedAt = &now
	return nil
}

// ──────────────────────────────────────────────────
// Run Store
// ──────────────────────────────────────────────────

// CreateRun persists a new run in PENDING state.
func (m *Store) CreateRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *r
	key := r.ID.String()
	m.runs[key] = &cp
	m.seq++
	m.runSeq[key] = m.seq
	return nil
}

// GetRun retrieves a run by ID.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, core.ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

// ListRuns returns runs matching opts, newest first.
func (m *Store) ListRuns(_ context.Context, opts run.ListOpts) ([]*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*run.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.Target != nil && r.Target != *opts.Target {
			continue
		}
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		if !opts.GroupID.IsNil() && r.GroupID != opts.GroupID {
			continue
		}
		if !opts.Schedule.IsNil() && r.ScheduleID != opts.Schedule {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		return m.runSeq[out[i].ID.String()] > m.runSeq[out[k].ID.String()]
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// StartRun transitions PENDING→RUNNING, enforcing single-flight per target.
func (m *Store) StartRun(_ context.Context, runID id.RunID, at time.Time) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, core.ErrRunNotFound
	}
	if r.Status != run.StatusPending {
		return nil, core.ErrInvalidTransition
	}
	for _, other := range m.runs {
		if other.ID != r.ID && other.Target == r.Target && other.Status == run.StatusRunning {
			return nil, core.ErrConcurrentRunRejected
		}
	}

	r.Status = run.StatusRunning
	started := at.UTC()
	r.StartedAt = &started
	cp := *r
	return &cp, nil
}

// CompleteRun transitions RUNNING→SUCCESS with the result metrics.
func (m *Store) CompleteRun(_ context.Context, runID id.RunID, at time.Time, metrics run.Metrics) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, core.ErrRunNotFound
	}
	if r.Status != run.StatusRunning {
		return nil, core.ErrInvalidTransition
	}

	r.Status = run.StatusSuccess
	finished := at.UTC()
	r.FinishedAt = &finished
	r.RowsLoaded = metrics.RowsLoaded
	r.Log = metrics.Log
	cp := *r
	return &cp, nil
}

// FailRun transitions RUNNING→FAILED or PENDING→FAILED.
func (m *Store) FailRun(_ context.Context, runID id.RunID, at time.Time, errMsg, log string) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, core.ErrRunNotFound
	}
	if r.Status != run.StatusRunning && r.Status != run.StatusPending {
		return nil, core.ErrInvalidTransition
	}

	r.Status = run.StatusFailed
	finished := at.UTC()
	r.FinishedAt = &finished
	r.Error = errMsg
	if log != "" {
		r.Log = log
	}
	cp := *r
	return &cp, nil
}

// CancelRun transitions PENDING→CANCELLED or RUNNING→CANCELLED.
func (m *Store) CancelRun(_ context.Context, runID id.RunID, at time.Time) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, core.ErrRunNotFound
	}
	if r.Status.Terminal() {
		return nil, core.ErrInvalidTransition
	}

	r.Status = run.StatusCancelled
	finished := at.UTC()
	r.FinishedAt = &finished
	cp := *r
	return &cp, nil
}

// CountRunning returns the number of RUNNING runs for the target.
func (m *Store) CountRunning(_ context.Context, target core.EntityRef) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, r := range m.runs {
		if r.Target == target && r.Status == run.StatusRunning {
			n++
		}
	}
	return n, nil
}

// LatestSuccess returns the most recent SUCCESS run for the target.
func (m *Store) LatestSuccess(_ context.Context, target core.EntityRef) (*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *run.Run
	var bestSeq uint64
	for _, r := range m.runs {
		if r.Target != target || r.Status != run.StatusSuccess {
			continue
		}
		if s := m.runSeq[r.ID.String()]; best == nil || s > bestSeq {
			best, bestSeq = r, s
		}
	}
	if best == nil {
		return nil, core.ErrRunNotFound
	}
	cp := *best
	return &cp, nil
}

// ──────────────────────────────────────────────────
// Schedule Store
// ──────────────────────────────────────────────────

// CreateSchedule persists a new schedule record.
func (m *Store) CreateSchedule(_ context.Context, s *schedule.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.schedules[s.ID.String()] = &cp
	return nil
}

// GetSchedule retrieves a schedule by ID, tombstoned or not.
func (m *Store) GetSchedule(_ context.Context, scheduleID id.ScheduleID) (*schedule.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.schedules[scheduleID.String()]
	if !ok {
		return nil, core.ErrScheduleNotFound
	}
	cp := *s
	return &cp, nil
}

// UpdateSchedule persists changes to an existing schedule.
func (m *Store) UpdateSchedule(_ context.Context, s *schedule.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.schedules[s.ID.String()]; !ok {
		return core.ErrScheduleNotFound
	}
	cp := *s
	m.schedules[s.ID.String()] = &cp
	return nil
}

// ListSchedules returns all non-deleted schedules.
func (m *Store) ListSchedules(_ context.Context) ([]*schedule.Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*schedule.Schedule, 0, len(m.schedules))
	for _, s := range m.schedules {
		if s.Deleted() {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].ID.String() < out[k].ID.String()
	})
	return out, nil
}

// TombstoneSchedule soft-deletes a schedule record.
func (m *Store) TombstoneSchedule(_ context.Context, scheduleID id.ScheduleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[scheduleID.String()]
	if !ok || s.Deleted() {
		return core.ErrScheduleNotFound
	}
	now := time.Now().UTC()
	s.DeletedAt = &now
	return nil
}

// UpsertTrigger inserts or replaces the trigger row for t.Key.
func (m *Store) UpsertTrigger(_ context.Context, t *schedule.Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	m.triggers[t.Key] = &cp
	return nil
}

// GetTrigger retrieves a trigger row by key.
func (m *Store) GetTrigger(_ context.Context, key string) (*schedule.Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.triggers[key]
	if !ok {
		return nil, core.ErrTriggerNotFound
	}
	cp := *t
	return &cp, nil
}

// DeleteTrigger removes a trigger row by key. Missing rows are ignored.
func (m *Store) DeleteTrigger(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.triggers, key)
	return nil
}

// ListTriggers returns all trigger rows.
func (m *Store) ListTriggers(_ context.Context) ([]*schedule.Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*schedule.Trigger, 0, len(m.triggers))
	for _, t := range m.triggers {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Key < out[k].Key })
	return out, nil
}

// AdvanceTrigger atomically records a fire while NextFireAt is unchanged.
func (m *Store) AdvanceTrigger(_ context.Context, key string, expected, next, firedAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.triggers[key]
	if !ok {
		return false, core.ErrTriggerNotFound
	}
	if !t.NextFireAt.Equal(expected) {
		return false, nil
	}
	fired := firedAt.UTC()
	t.LastFireAt = &fired
	t.NextFireAt = next.UTC()
	return true, nil
}
