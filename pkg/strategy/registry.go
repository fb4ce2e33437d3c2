// Package strategy implements the pluggable download-strategy registry. Hosts
// register custom handlers for non-standard transports or archive shapes; the
// coordinator consults the registry before falling back to the default
// transfer path.
package strategy

import (
	"context"
	"sync"

	"github.com/modelpull/modelpull/pkg/model"
	"github.com/modelpull/modelpull/pkg/progress"
)

// Strategy is a capability-polymorphic acquisition handler. A resolved
// strategy owns the entire acquisition, including any extraction it needs;
// the coordinator does not post-process its result.
type Strategy interface {
	// ID identifies the strategy for explicit selection via
	// Descriptor.StrategyID.
	ID() string

	// CanHandle reports whether this strategy wants to acquire the model.
	CanHandle(desc *model.Descriptor) bool

	// Fetch acquires the model into destDir and returns the final usable
	// path. onProgress may be nil.
	Fetch(ctx context.Context, desc *model.Descriptor, destDir string, onProgress progress.Func) (string, error)
}

// Registry holds registered strategies in precedence order. Lookups are
// read-mostly and safe for concurrent use; registration typically happens
// during host start-up.
type Registry struct {
	mu         sync.RWMutex
	strategies []Strategy
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a strategy. The most recently registered strategy takes
// precedence over earlier ones; registering the same instance again simply
// promotes it.
func (r *Registry) Register(s Strategy) {
	if s == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies = append(r.strategies, s)
}

// Resolve returns the strategy that should handle the descriptor, or nil when
// none matches and the default transfer path applies.
//
// When the descriptor names a strategy explicitly, only an ID match counts.
// Otherwise strategies are probed newest-first and the first CanHandle match
// wins.
func (r *Registry) Resolve(desc *model.Descriptor) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if desc.StrategyID != "" {
		for i := len(r.strategies) - 1; i >= 0; i-- {
			if r.strategies[i].ID() == desc.StrategyID {
				return r.strategies[i]
			}
		}
		return nil
	}

	for i := len(r.strategies) - 1; i >= 0; i-- {
		if r.strategies[i].CanHandle(desc) {
			return r.strategies[i]
		}
	}
	return nil
}

// Len returns the number of registered strategy entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.strategies)
}
