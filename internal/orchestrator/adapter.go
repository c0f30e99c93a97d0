// Package orchestrator drives the container backends a stack can run on.
package orchestrator

import (
	"context"
	"log/slog"

	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/stackconfig"
)

// Target identifies the stack an adapter acts on.
type Target struct {
	// Name is the sanitized stack name.
	Name string
	// WorkDir is the merge request checkout.
	WorkDir string
	// Manifest is the rendered manifest file, or directory for kubernetes.
	Manifest string
}

// Adapter starts, stops and inspects stacks on one backend.
type Adapter interface {
	Up(ctx context.Context, t Target) error
	Down(ctx context.Context, t Target) error
	// CheckHealth never fails; problems are logged and reported as StackError.
	CheckHealth(ctx context.Context, stackName string) domain.StackStatus
}

// Registry maps backend names to adapters.
type Registry struct {
	adapters map[string]Adapter
	log      *slog.Logger
}

// NewRegistry builds a registry. The compose adapter is the fallback for
// unknown names and must be present.
func NewRegistry(compose, swarm, kubernetes Adapter, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	adapters := map[string]Adapter{stackconfig.Compose: compose}
	if swarm != nil {
		adapters[stackconfig.Swarm] = swarm
	}
	if kubernetes != nil {
		adapters[stackconfig.Kubernetes] = kubernetes
	}
	return &Registry{adapters: adapters, log: log.With("component", "orchestrator")}
}

// Get returns the adapter registered under name, falling back to compose.
func (r *Registry) Get(name string) Adapter {
	key := stackconfig.NormalizeOrchestrator(name)
	if adapter, ok := r.adapters[key]; ok {
		return adapter
	}
	r.log.Warn("orchestrator unavailable, falling back to compose", "orchestrator", name)
	return r.adapters[stackconfig.Compose]
}
