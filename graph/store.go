package graph

import (
	"context"

	"github.com/datanika-io/datanika-core/id"
)

// Store defines the persistence contract for dependency edges.
type Store interface {
	// InsertEdge persists a new edge. The caller (Service) has already
	// validated it.
	InsertEdge(ctx context.Context, e *Edge) error

	// GetEdge retrieves an edge by ID, tombstoned or not.
	GetEdge(ctx context.Context, edgeID id.EdgeID) (*Edge, error)

	// ListEdges returns all live (non-tombstoned) edges.
	ListEdges(ctx context.Context) ([]*Edge, error)

	// TombstoneEdge soft-deletes an edge. Returns core.ErrEdgeNotFound if
	// the edge does not exist or is already tombstoned.
	TombstoneEdge(ctx context.Context, edgeID id.EdgeID) error
}
