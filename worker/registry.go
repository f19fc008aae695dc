// Package worker is the execution side of the bridge boundary: a Registry
// of per-kind handlers, an Executor that drives the run ledger's state
// machine around each handler invocation, and a Pool of goroutines that
// poll the task queue.
package worker

import (
	"context"
	"fmt"
	"sync"

	core "github.com/datanika-io/datanika-core"
	"github.com/datanika-io/datanika-core/run"
)

// Handler executes one entity: the extract/load or transform engine behind
// this kind. The engine treats it as an opaque long-running operation; only
// the final (metrics, error) result is inspected. Handlers must honor
// context cancellation on a best-effort basis.
type Handler func(ctx context.Context, target core.EntityRef) (run.Metrics, error)

// Registry maps entity kinds to their handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[core.Kind]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[core.Kind]Handler)}
}

// Register binds a handler to a kind, replacing any previous binding.
func (r *Registry) Register(kind core.Kind, h Handler) error {
	if !kind.Valid() {
		return fmt.Errorf("worker: register handler: unknown kind %q", kind)
	}
	r.mu.Lock()
	r.handlers[kind] = h
	r.mu.Unlock()
	return nil
}

// Get returns the handler for a kind.
func (r *Registry) Get(kind core.Kind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}
