package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/splax/instantiate/internal/domain"
	"github.com/splax/instantiate/internal/metrics"
)

// Lifecycle is the engine the worker dispatches to.
type Lifecycle interface {
	Deploy(ctx context.Context, ev domain.CanonicalEvent, projectKey string, force bool) (string, bool, error)
	Destroy(ctx context.Context, ev domain.CanonicalEvent, projectKey string) error
}

// Worker consumes a queue with a fixed pool of goroutines.
type Worker struct {
	queue       Queue
	lifecycle   Lifecycle
	concurrency int
	retryDelay  time.Duration
	logger      *slog.Logger
	handled     *prometheus.CounterVec
}

// NewWorker constructs a Worker running concurrency consumers.
func NewWorker(q Queue, lc Lifecycle, concurrency int, logger *slog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:       q,
		lifecycle:   lc,
		concurrency: concurrency,
		retryDelay:  time.Second,
		logger:      logger.With("component", "worker"),
		handled: metrics.CounterVec(prometheus.CounterOpts{
			Subsystem: "queue",
			Name:      "messages_total",
			Help:      "Queue messages handled by status and outcome",
		}, []string{"status", "outcome"}),
	}
}

// Run blocks until ctx is cancelled or the queue closes. In-flight messages
// are finished before returning.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			return w.consume(ctx, i)
		})
	}
	return g.Wait()
}

func (w *Worker) consume(ctx context.Context, id int) error {
	log := w.logger.With("worker", id)
	for {
		delivery, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrClosed) {
				return nil
			}
			log.Warn("receive failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.retryDelay):
			}
			continue
		}

		jobCtx := context.WithoutCancel(ctx)
		w.Handle(jobCtx, delivery.Message)
		if err := delivery.Ack(jobCtx); err != nil {
			log.Warn("ack failed", "message_id", delivery.ID, "error", err)
		}
	}
}

// Handle routes one message: open events deploy, closed events destroy.
// Failures are logged; the lifecycle already reported them on the merge request.
func (w *Worker) Handle(ctx context.Context, msg Message) {
	ev := msg.Event
	log := w.logger.With("message_id", msg.ID, "project_id", ev.ProjectID, "mr_id", ev.MRID, "status", ev.Status)

	outcome := "ok"
	switch ev.Status {
	case domain.EventOpen:
		host, deployed, err := w.lifecycle.Deploy(ctx, ev, msg.ProjectKey, msg.ForceDeploy)
		switch {
		case err != nil:
			outcome = "error"
			log.Error("deploy failed", "error", err)
		case deployed:
			log.Info("deploy finished", "host", host)
		default:
			outcome = "skipped"
			log.Info("deploy skipped")
		}
	case domain.EventClosed:
		if err := w.lifecycle.Destroy(ctx, ev, msg.ProjectKey); err != nil {
			outcome = "error"
			log.Error("destroy failed", "error", err)
		} else {
			log.Info("destroy finished")
		}
	default:
		outcome = "ignored"
		log.Warn("unknown event status")
	}
	w.handled.With(prometheus.Labels{"status": string(ev.Status), "outcome": outcome}).Inc()
}
