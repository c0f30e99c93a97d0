// Package ports leases host ports to stack services, reconciling the
// persisted ledger with what the container runtime and the host actually use.
package ports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/metrics"
	"github.com/splax/instantiate/internal/repository"
)

// ErrNoAvailablePort is returned when every port of the range is taken.
var ErrNoAvailablePort = errors.New("no available port")

// RuntimePorts reports host ports published by the container runtime.
type RuntimePorts interface {
	PublishedPorts(ctx context.Context) (map[int]struct{}, error)
}

// Prober checks whether a port can be bound on the host.
type Prober interface {
	Free(port int) bool
}

// Config bounds the allocation range.
type Config struct {
	Min     int
	Max     int
	Exclude map[int]struct{}
}

// Allocator hands out external ports for (project, merge request, service, slot) keys.
type Allocator struct {
	repo    repository.PortRepository
	runtime RuntimePorts
	prober  Prober
	cfg     Config
	log     *slog.Logger

	mu          sync.Mutex
	allocations *prometheus.CounterVec
}

// New constructs an Allocator. A nil runtime disables the runtime check; a
// nil prober falls back to a real bind probe.
func New(repo repository.PortRepository, runtime RuntimePorts, prober Prober, cfg Config, log *slog.Logger) *Allocator {
	if cfg.Min <= 0 {
		cfg.Min = 10000
	}
	if cfg.Max < cfg.Min {
		cfg.Max = cfg.Min
	}
	if prober == nil {
		prober = HostProber{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Allocator{
		repo:    repo,
		runtime: runtime,
		prober:  prober,
		cfg:     cfg,
		log:     log.With("component", "ports"),
		allocations: metrics.CounterVec(prometheus.CounterOpts{
			Subsystem: "ports",
			Name:      "allocations_total",
			Help:      "Port allocation outcomes",
		}, []string{"outcome"}),
	}
}

// Allocate returns the external port leased to the key, creating or
// re-pointing the lease when needed.
func (a *Allocator) Allocate(ctx context.Context, projectID, mrID, service, slot string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := domain.LeaseKey{ProjectID: projectID, MRID: mrID, Service: service, SlotName: slot}
	existing, err := a.repo.FindLease(ctx, key)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		a.record("error")
		return 0, fmt.Errorf("find lease: %w", err)
	}

	runtimePorts := a.runtimePorts(ctx)

	if existing != nil {
		used, err := a.repo.UsedPorts(ctx, &key)
		if err != nil {
			a.record("error")
			return 0, fmt.Errorf("list used ports: %w", err)
		}
		if a.isFree(existing.ExternalPort, used, runtimePorts) {
			a.log.Debug("reusing leased port", "project_id", projectID, "mr_id", mrID, "service", service, "slot", slot, "port", existing.ExternalPort)
			a.record("reused")
			return existing.ExternalPort, nil
		}
		port, err := a.scan(used, runtimePorts)
		if err != nil {
			a.record("exhausted")
			return 0, err
		}
		if err := a.repo.UpdateLeasePort(ctx, key, port); err != nil {
			a.record("error")
			return 0, fmt.Errorf("update lease: %w", err)
		}
		a.log.Info("leased port occupied, reallocated", "project_id", projectID, "mr_id", mrID, "service", service, "slot", slot, "previous", existing.ExternalPort, "port", port)
		a.record("reallocated")
		return port, nil
	}

	used, err := a.repo.UsedPorts(ctx, nil)
	if err != nil {
		a.record("error")
		return 0, fmt.Errorf("list used ports: %w", err)
	}
	port, err := a.scan(used, runtimePorts)
	if err != nil {
		a.record("exhausted")
		return 0, err
	}
	lease := domain.PortLease{ProjectID: projectID, MRID: mrID, Service: service, SlotName: slot, ExternalPort: port}
	if err := a.repo.InsertLease(ctx, lease); err != nil {
		a.record("error")
		return 0, fmt.Errorf("insert lease: %w", err)
	}
	a.log.Info("port allocated", "project_id", projectID, "mr_id", mrID, "service", service, "slot", slot, "port", port)
	a.record("allocated")
	return port, nil
}

// Release drops every lease of the merge request.
func (a *Allocator) Release(ctx context.Context, projectID, mrID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.repo.DeleteLeases(ctx, projectID, mrID); err != nil {
		return fmt.Errorf("release ports: %w", err)
	}
	a.log.Info("ports released", "project_id", projectID, "mr_id", mrID)
	return nil
}

// PortsFor maps slot names to the external ports leased to the merge request.
func (a *Allocator) PortsFor(ctx context.Context, projectID, mrID string) (map[string]int, error) {
	leases, err := a.repo.LeasesFor(ctx, projectID, mrID)
	if err != nil {
		return nil, fmt.Errorf("list leases: %w", err)
	}
	out := make(map[string]int, len(leases))
	for _, lease := range leases {
		out[lease.SlotName] = lease.ExternalPort
	}
	return out, nil
}

func (a *Allocator) scan(used, runtimePorts map[int]struct{}) (int, error) {
	for port := a.cfg.Min; port <= a.cfg.Max; port++ {
		if a.isFree(port, used, runtimePorts) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("range %d-%d: %w", a.cfg.Min, a.cfg.Max, ErrNoAvailablePort)
}

func (a *Allocator) isFree(port int, used, runtimePorts map[int]struct{}) bool {
	if port < a.cfg.Min || port > a.cfg.Max {
		return false
	}
	if _, ok := a.cfg.Exclude[port]; ok {
		return false
	}
	if _, ok := used[port]; ok {
		return false
	}
	if _, ok := runtimePorts[port]; ok {
		return false
	}
	return a.prober.Free(port)
}

// runtimePorts degrades to an empty set when the runtime cannot be queried.
func (a *Allocator) runtimePorts(ctx context.Context) map[int]struct{} {
	if a.runtime == nil {
		return nil
	}
	published, err := a.runtime.PublishedPorts(ctx)
	if err != nil {
		a.log.Debug("unable to read runtime ports, assuming none are published", "error", err)
		return nil
	}
	return published
}

func (a *Allocator) record(outcome string) {
	a.allocations.With(prometheus.Labels{"outcome": outcome}).Inc()
}
