// Package store defines the aggregate persistence interface. Each subsystem
// (graph, run, schedule) defines its own store interface. The composite
// Store composes them all. Backends: Postgres and Memory.
package store

import (
	"context"

	"github.com/datanika-io/datanika-core/graph"
	"github.com/datanika-io/datanika-core/run"
	"github.com/datanika-io/datanika-core/schedule"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (postgres, memory) implements all of them.
type Store interface {
	graph.Store
	run.Store
	schedule.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
