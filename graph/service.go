package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/id"
)

// Service validates and queries the dependency graph. All edge mutations
// must go through AddEdge so the stored graph stays acyclic.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a graph Service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// ValidateEdge checks whether adding upstream→downstream to the given live
// edges is legal. It returns core.ErrSelfReference, core.ErrDuplicateEdge,
// or core.ErrWouldCreateCycle on violation.
//
// The cycle check is a reachability search from downstream following
// existing upstream→downstream edges: if upstream is reachable from
// downstream, the new edge would close a cycle. O(V+E) per call, which is
// acceptable because edge mutations are rare relative to runs.
func ValidateEdge(upstream, downstream core.EntityRef, existing []*Edge) error {
	if upstream == downstream {
		return core.ErrSelfReference
	}

	adjacency := make(map[core.EntityRef][]core.EntityRef, len(existing))
	for _, e := range existing {
		if !e.Live() {
			continue
		}
		if e.Upstream == upstream && e.Downstream == downstream {
			return core.ErrDuplicateEdge
		}
		adjacency[e.Upstream] = append(adjacency[e.Upstream], e.Downstream)
	}

	// DFS from downstream; finding upstream means the edge closes a cycle.
	seen := map[core.EntityRef]bool{downstream: true}
	stack := []core.EntityRef{downstream}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == upstream {
			return core.ErrWouldCreateCycle
		}
		for _, next := range adjacency[node] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return nil
}

// AddEdge validates and persists a new dependency edge. On validation
// failure the graph is left unchanged.
func (s *Service) AddEdge(ctx context.Context, upstream, downstream core.EntityRef) (*Edge, error) {
	existing, err := s.store.ListEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph: list edges: %w", err)
	}
	if err := ValidateEdge(upstream, downstream, existing); err != nil {
		return nil, err
	}

	e := &Edge{
		ID:         id.NewEdgeID(),
		Upstream:   upstream,
		Downstream: downstream,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.InsertEdge(ctx, e); err != nil {
		return nil, fmt.Errorf("graph: insert edge: %w", err)
	}

	s.logger.Info("dependency edge added",
		slog.String("edge_id", e.ID.String()),
		slog.String("upstream", upstream.String()),
		slog.String("downstream", downstream.String()),
	)
	return e, nil
}

// RemoveEdge tombstones an edge. The record is kept for history.
func (s *Service) RemoveEdge(ctx context.Context, edgeID id.EdgeID) error {
	if err := s.store.TombstoneEdge(ctx, edgeID); err != nil {
		return err
	}
	s.logger.Info("dependency edge tombstoned", slog.String("edge_id", edgeID.String()))
	return nil
}

// UpstreamOf returns the direct prerequisites of ref, excluding tombstones.
func (s *Service) UpstreamOf(ctx context.Context, ref core.EntityRef) ([]core.EntityRef, error) {
	edges, err := s.store.ListEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph: list edges: %w", err)
	}
	var out []core.EntityRef
	for _, e := range edges {
		if e.Downstream == ref {
			out = append(out, e.Upstream)
		}
	}
	sortRefs(out)
	return out, nil
}

// DownstreamOf returns the direct dependents of ref, excluding tombstones.
func (s *Service) DownstreamOf(ctx context.Context, ref core.EntityRef) ([]core.EntityRef, error) {
	edges, err := s.store.ListEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph: list edges: %w", err)
	}
	var out []core.EntityRef
	for _, e := range edges {
		if e.Upstream == ref {
			out = append(out, e.Downstream)
		}
	}
	sortRefs(out)
	return out, nil
}

// TopologicalOrder returns the closure of root in the given direction,
// ordered so every entity appears after all of its upstream entities. When
// root is nil the whole graph is ordered. Ties are broken by ascending
// (kind, id). Returns core.ErrCycleDetected if the stored graph somehow
// contains a cycle, which means validation was bypassed.
func (s *Service) TopologicalOrder(ctx context.Context, root *core.EntityRef, dir Direction) ([]core.EntityRef, error) {
	edges, err := s.store.ListEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph: list edges: %w", err)
	}

	members := map[core.EntityRef]bool{}
	if root == nil {
		for _, e := range edges {
			members[e.Upstream] = true
			members[e.Downstream] = true
		}
	} else {
		collectClosure(*root, dir, edges, members)
	}

	return sortTopologically(members, edges)
}

// Closure returns the unordered member set of the DAG group rooted at ref
// in the given direction, including ref itself.
func (s *Service) Closure(ctx context.Context, ref core.EntityRef, dir Direction) ([]core.EntityRef, error) {
	edges, err := s.store.ListEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph: list edges: %w", err)
	}
	members := map[core.EntityRef]bool{}
	collectClosure(ref, dir, edges, members)
	out := make([]core.EntityRef, 0, len(members))
	for ref := range members {
		out = append(out, ref)
	}
	sortRefs(out)
	return out, nil
}

// collectClosure walks live edges from root in the given direction.
func collectClosure(root core.EntityRef, dir Direction, edges []*Edge, members map[core.EntityRef]bool) {
	members[root] = true
	stack := []core.EntityRef{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range edges {
			var next core.EntityRef
			switch {
			case dir == Downstream && e.Upstream == node:
				next = e.Downstream
			case dir == Upstream && e.Downstream == node:
				next = e.Upstream
			default:
				continue
			}
			if !members[next] {
				members[next] = true
				stack = append(stack, next)
			}
		}
	}
}

// sortTopologically runs Kahn's algorithm over the member set, counting
// only edges between members. Nodes with no relative order constraint come
// out in ascending (kind, id) order.
func sortTopologically(members map[core.EntityRef]bool, edges []*Edge) ([]core.EntityRef, error) {
	inDegree := make(map[core.EntityRef]int, len(members))
	dependents := make(map[core.EntityRef][]core.EntityRef, len(members))
	for ref := range members {
		inDegree[ref] = 0
	}
	for _, e := range edges {
		if !members[e.Upstream] || !members[e.Downstream] {
			continue
		}
		dependents[e.Upstream] = append(dependents[e.Upstream], e.Downstream)
		inDegree[e.Downstream]++
	}

	var ready []core.EntityRef
	for ref, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, ref)
		}
	}
	sortRefs(ready)

	order := make([]core.EntityRef, 0, len(members))
	for len(ready) > 0 {
		node := ready[0]
		ready = ready[1:]
		order = append(order, node)

		var released []core.EntityRef
		for _, dep := range dependents[node] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				released = append(released, dep)
			}
		}
		if len(released) > 0 {
			ready = append(ready, released...)
			sortRefs(ready)
		}
	}

	if len(order) != len(members) {
		// Unreachable when every edge insertion went through AddEdge.
		return nil, fmt.Errorf("graph: topological order: %w", core.ErrCycleDetected)
	}
	return order, nil
}

func sortRefs(refs []core.EntityRef) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
}
