// Package health periodically reconciles recorded stack statuses with what
// the orchestrators report.
package health

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/metrics"
	"github.com/splax/instantiate/internal/naming"
	"github.com/splax/instantiate/internal/orchestrator"
	"github.com/splax/instantiate/internal/repository"
	"github.com/splax/instantiate/internal/ws"
)

const (
	defaultInterval = 30 * time.Second
	checkTimeout    = 15 * time.Second
)

// Backends resolves orchestrator adapters by name.
type Backends interface {
	Get(name string) orchestrator.Adapter
}

// Publisher receives status changes.
type Publisher interface {
	PublishStatus(change ws.StatusChange) error
}

// Poller checks every recorded stack on a fixed interval.
type Poller struct {
	stacks    repository.StackRepository
	backends  Backends
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	now       func() time.Time

	gauge *prometheus.GaugeVec
}

// New constructs a Poller. publisher may be nil.
func New(stacks repository.StackRepository, backends Backends, publisher Publisher, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		stacks:    stacks,
		backends:  backends,
		publisher: publisher,
		logger:    logger.With("component", "health"),
		interval:  interval,
		now:       time.Now,
		gauge: metrics.GaugeVec(prometheus.GaugeOpts{
			Subsystem: "stacks",
			Name:      "by_status",
			Help:      "Recorded stacks per status after the last health check",
		}, []string{"status"}),
	}
}

// Run polls until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("health poller started", "interval", p.interval)
	p.Check(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("health poller stopped")
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}

// Check runs one pass and returns the number of status changes written.
func (p *Poller) Check(parent context.Context) int {
	timeout := checkTimeout
	if p.interval < timeout {
		timeout = p.interval
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	records, err := p.stacks.ListStacks(ctx)
	if err != nil {
		p.logger.Warn("failed to list stacks", "error", err)
		return 0
	}

	counts := map[domain.StackStatus]float64{domain.StackRunning: 0, domain.StackStopped: 0, domain.StackError: 0}
	changed := 0
	for _, record := range records {
		status := p.backends.Get(record.Orchestrator).CheckHealth(ctx, naming.BuildStackName(record.ProjectName, record.MRName))
		counts[status]++
		if status == record.Status {
			continue
		}
		log := p.logger.With("project_id", record.ProjectID, "mr_id", record.MRID)
		if err := p.stacks.UpdateStackStatus(ctx, record.ProjectID, record.MRID, status); err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				log.Warn("failed to update stack status", "error", err)
			}
			continue
		}
		changed++
		log.Info("stack status changed", "previous", record.Status, "status", status)
		if p.publisher != nil {
			change := ws.StatusChange{
				ProjectID: record.ProjectID,
				MRID:      record.MRID,
				Previous:  record.Status,
				Status:    status,
				Links:     record.Links,
				At:        p.now().UTC(),
			}
			if err := p.publisher.PublishStatus(change); err != nil {
				log.Warn("failed to publish status change", "error", err)
			}
		}
	}
	for status, n := range counts {
		p.gauge.With(prometheus.Labels{"status": string(status)}).Set(n)
	}
	return changed
}
