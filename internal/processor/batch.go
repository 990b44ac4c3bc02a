package processor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/couchcryptid/storm-alert-relay/internal/domain"
	"github.com/couchcryptid/storm-alert-relay/internal/observability"
)

// BatchSummary tallies a batch run. Skipped counts duplicates and alerts
// below the severity threshold; Failed counts rejects and publish failures.
type BatchSummary struct {
	Total     int
	Published int
	Skipped   int
	Failed    int
	Outcomes  []Outcome
}

// ProcessBatch processes each alert independently and in order. One alert
// failing never stops the rest.
func (p *Processor) ProcessBatch(ctx context.Context, alerts []domain.Alert) BatchSummary {
	sum := BatchSummary{Total: len(alerts), Outcomes: make([]Outcome, 0, len(alerts))}
	for _, alert := range alerts {
		out, err := p.Process(ctx, alert)
		if err != nil && out.Err == nil {
			out.Status = StatusPublishFailed
			out.Err = err
		}
		switch out.Status {
		case StatusPublished:
			sum.Published++
		case StatusAlreadyProcessed, StatusSkippedSeverity:
			sum.Skipped++
		default:
			sum.Failed++
		}
		sum.Outcomes = append(sum.Outcomes, out)
	}
	return sum
}

// AlertProcessor is the part of Processor the Dispatcher needs.
type AlertProcessor interface {
	Process(ctx context.Context, alert domain.Alert) (Outcome, error)
}

// Dispatcher processes alerts in detached goroutines so webhook callers never
// wait on publishing.
type Dispatcher struct {
	proc    AlertProcessor
	base    context.Context
	mu      sync.Mutex // guards closed and wg.Add
	wg      sync.WaitGroup
	closed  bool
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher. Work runs under a context detached from
// ctx's cancellation but carrying its values.
func NewDispatcher(ctx context.Context, proc AlertProcessor, metrics *observability.Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		proc:    proc,
		base:    context.WithoutCancel(ctx),
		metrics: metrics,
		logger:  logger,
	}
}

// Submit starts processing alert and returns immediately. It returns false
// once the dispatcher is draining.
func (d *Dispatcher) Submit(alert domain.Alert) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.logger.Warn("dispatcher draining, alert dropped", "alert_id", alert.ID)
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	d.metrics.AlertsInFlight.Inc()
	go func() {
		defer d.wg.Done()
		defer d.metrics.AlertsInFlight.Dec()

		if _, err := d.proc.Process(d.base, alert); err != nil {
			d.logger.Error("alert processing failed", "alert_id", alert.ID, "error", err)
		}
	}()
	return true
}

// Wait stops accepting work and blocks until in-flight alerts finish or ctx
// expires.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
