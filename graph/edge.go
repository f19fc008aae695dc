package graph

import (
	"time"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/id"
)

// Edge is a directed dependency: Downstream must not run until Upstream has
// succeeded within the same group firing.
type Edge struct {
	ID         id.EdgeID      `json:"id"`
	Upstream   core.EntityRef `json:"upstream"`
	Downstream core.EntityRef `json:"downstream"`
	CreatedAt  time.Time      `json:"created_at"`
	// DeletedAt marks the edge as tombstoned. Tombstoned edges are kept
	// for history but excluded from all graph computations.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Live reports whether the edge participates in graph computations.
func (e *Edge) Live() bool { return e.DeletedAt == nil }

// Direction selects which closure TopologicalOrder walks from its root.
type Direction int

const (
	// Downstream walks from the root toward its dependents.
	Downstream Direction = iota
	// Upstream walks from the root toward its prerequisites.
	Upstream
)
