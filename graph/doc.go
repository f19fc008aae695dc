// Package graph maintains the dependency graph between orchestrable
// entities: directed edges from an upstream entity to a downstream one.
//
// The graph is the authority on edge validity. Every edge insertion goes
// through [Service.AddEdge], which rejects self-references, duplicates, and
// any edge that would close a cycle, so the stored graph is a DAG by
// construction. Edges are tombstoned rather than removed, preserving
// history; tombstoned edges never participate in graph computations.
//
// [Service.TopologicalOrder] produces the execution order for a DAG group:
// every entity appears after all of its upstream entities, with ties broken
// by ascending (kind, id) for determinism.
package graph
