package postgres

import (
	"context"
	"fmt"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/graph"
	"github.com/datanika-io/datanika-core/id"
)

// InsertEdge persists a new edge.
func (s *Store) InsertEdge(ctx context.Context, e *graph.Edge) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO datanika_edges (
			id, upstream_kind, upstream_id, downstream_kind, downstream_id,
			created_at, deleted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID.String(),
		string(e.Upstream.Kind), e.Upstream.ID,
		string(e.Downstream.Kind), e.Downstream.ID,
		e.CreatedAt, e.DeletedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return core.ErrDuplicateEdge
		}
		return fmt.Errorf("datanika/postgres: insert edge: %w", err)
	}
	return nil
}

// GetEdge retrieves an edge by ID, tombstoned or not.
func (s *Store) GetEdge(ctx context.Context, edgeID id.EdgeID) (*graph.Edge, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+edgeColumns+` FROM datanika_edges WHERE id = $1`,
		edgeID.String(),
	)
	e, err := scanEdge(row)
	if err != nil {
		if isNoRows(err) {
			return nil, core.ErrEdgeNotFound
		}
		return nil, fmt.Errorf("datanika/postgres: get edge: %w", err)
	}
	return e, nil
}

// ListEdges returns all live (non-tombstoned) edges.
func (s *Store) ListEdges(ctx context.Context) ([]*graph.Edge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+edgeColumns+` FROM datanika_edges WHERE deleted_at IS NULL ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("datanika/postgres: list edges: %w", err)
	}
	return collectEdges(rows)
}

// TombstoneEdge soft-deletes an edge.
func (s *Store) TombstoneEdge(ctx context.Context, edgeID id.EdgeID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE datanika_edges SET deleted_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`,
		edgeID.String(),
	)
	if err != nil {
		return fmt.Errorf("datanika/postgres: tombstone edge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrEdgeNotFound
	}
	return nil
}
