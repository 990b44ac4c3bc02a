// Package processor runs each alert through the dedup gate, the severity
// gate, formatting and publishing, and reports a typed outcome.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/storm-alert-relay/internal/dedup"
	"github.com/couchcryptid/storm-alert-relay/internal/domain"
	"github.com/couchcryptid/storm-alert-relay/internal/observability"
	"github.com/couchcryptid/storm-alert-relay/internal/publisher"
)

// Status is the terminal state of one alert.
type Status string

const (
	StatusPublished        Status = "published"
	StatusAlreadyProcessed Status = "already_processed"
	StatusSkippedSeverity  Status = "skipped_severity"
	StatusPublishFailed    Status = "publish_failed"
	StatusRejected         Status = "rejected"
)

// Outcome is the result of processing one alert.
type Outcome struct {
	Status      Status
	AlertID     string
	Severity    domain.Severity
	Title       string
	Err         error
	RetryAfter  time.Duration
	ProcessedAt time.Time

	// Distribution is set when direct delivery to subscribers was attempted.
	Distribution *publisher.BulkResult
}

// ThresholdSource supplies the minimum severity an alert must reach to be published.
type ThresholdSource interface {
	MinSeverity(ctx context.Context, alert domain.Alert) domain.Severity
}

// StaticThreshold applies one fixed minimum to every alert.
type StaticThreshold domain.Severity

func (s StaticThreshold) MinSeverity(context.Context, domain.Alert) domain.Severity {
	return domain.Severity(s)
}

// Publisher delivers formatted alerts.
type Publisher interface {
	PublishToChannel(ctx context.Context, fa domain.FormattedAlert, bot domain.BotHandle) publisher.Result
	PublishToUsers(ctx context.Context, fa domain.FormattedAlert, subs []domain.Subscriber, bot domain.BotHandle) publisher.BulkResult
}

// OutcomeSink records terminal outcomes for auditing.
type OutcomeSink interface {
	WriteOutcome(ctx context.Context, outcome Outcome) error
}

// Option configures optional Processor collaborators.
type Option func(*Processor)

// WithSubscribers enables direct delivery to subscribers inside the alert
// area, or within proximityKm of it when proximityKm is positive.
func WithSubscribers(src domain.SubscriberSource, proximityKm float64) Option {
	return func(p *Processor) {
		p.subscribers = src
		p.proximityKm = proximityKm
	}
}

// WithOutcomeSink streams every terminal outcome to sink.
func WithOutcomeSink(sink OutcomeSink) Option {
	return func(p *Processor) { p.sink = sink }
}

// WithClock overrides the time source used for outcome timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(p *Processor) { p.clock = clock }
}

// Processor orchestrates the per-alert state machine.
type Processor struct {
	registry    dedup.Registry
	threshold   ThresholdSource
	publisher   Publisher
	bot         domain.BotHandle
	subscribers domain.SubscriberSource
	proximityKm float64
	sink        OutcomeSink
	clock       clockwork.Clock
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// New creates a Processor.
func New(registry dedup.Registry, threshold ThresholdSource, pub Publisher, bot domain.BotHandle,
	metrics *observability.Metrics, logger *slog.Logger, opts ...Option,
) *Processor {
	p := &Processor{
		registry:  registry,
		threshold: threshold,
		publisher: pub,
		bot:       bot,
		clock:     clockwork.NewRealClock(),
		metrics:   metrics,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CheckReadiness returns nil once the bot holds a live token.
func (p *Processor) CheckReadiness(_ context.Context) error {
	if p.bot.AuthToken() == "" {
		return errors.New("bot is not authenticated")
	}
	return nil
}

// Process runs one alert to a terminal state. The returned error is non-nil
// only when the alert is rejected (domain.ErrValidation) or the dedup
// registry is unavailable; publish problems are reported in the Outcome.
func (p *Processor) Process(ctx context.Context, alert domain.Alert) (Outcome, error) {
	if err := alert.Validate(); err != nil {
		p.metrics.AlertOutcomes.WithLabelValues(string(StatusRejected)).Inc()
		return Outcome{Status: StatusRejected, Err: err}, err
	}

	start := p.clock.Now()
	out := Outcome{AlertID: alert.ID, Severity: alert.Severity}

	reserved, err := p.registry.Reserve(ctx, alert.ID)
	if err != nil {
		return out, fmt.Errorf("reserve alert %q: %w", alert.ID, err)
	}
	if !reserved {
		out.Status = StatusAlreadyProcessed
		out.Err = domain.ErrDuplicateAlert
		return p.finish(ctx, out, start), nil
	}

	if threshold := p.threshold.MinSeverity(ctx, alert); !alert.Severity.AtLeast(threshold) {
		p.release(ctx, alert.ID)
		out.Status = StatusSkippedSeverity
		out.Err = fmt.Errorf("%w: %s < %s", domain.ErrSeverityBelowThreshold, alert.Severity, threshold)
		return p.finish(ctx, out, start), nil
	}

	fa := domain.FormatAlertForPosting(alert, p.logger)
	out.Title = fa.Title

	if p.bot.AuthToken() == "" {
		if err := p.bot.Authenticate(ctx); err != nil {
			p.release(ctx, alert.ID)
			out.Status = StatusPublishFailed
			out.Err = fmt.Errorf("%w: authenticate bot: %w", domain.ErrPublishFailure, err)
			return p.finish(ctx, out, start), nil
		}
	}

	res := p.publisher.PublishToChannel(ctx, fa, p.bot)
	if !res.Success {
		p.release(ctx, alert.ID)
		out.Status = StatusPublishFailed
		out.Err = res.Err
		out.RetryAfter = res.RetryAfter
		return p.finish(ctx, out, start), nil
	}

	if err := p.registry.Commit(ctx, alert.ID); err != nil {
		// The alert is out; a redelivery may publish it again.
		p.logger.Error("commit published alert failed", "alert_id", alert.ID, "error", err)
	}
	out.Status = StatusPublished
	out.Distribution = p.distribute(ctx, alert, fa)
	return p.finish(ctx, out, start), nil
}

// distribute sends fa directly to affected subscribers whose preferences
// accept the alert.
func (p *Processor) distribute(ctx context.Context, alert domain.Alert, fa domain.FormattedAlert) *publisher.BulkResult {
	if p.subscribers == nil || alert.Geometry == nil {
		return nil
	}
	subs, err := p.subscribers.Subscribers(ctx)
	if err != nil {
		p.logger.Warn("subscriber snapshot unavailable, skipping direct delivery",
			"alert_id", alert.ID, "error", err)
		return nil
	}

	affected := domain.FindSubscribersNearGeometry(alert.Geometry, subs, p.proximityKm)
	eligible := affected[:0:0]
	for _, s := range affected {
		if s.Preferences.Accepts(alert) {
			eligible = append(eligible, s)
		}
	}
	if len(eligible) == 0 {
		return nil
	}

	bulk := p.publisher.PublishToUsers(ctx, fa, eligible, p.bot)
	p.logger.Info("direct delivery finished",
		"alert_id", alert.ID,
		"eligible", len(eligible),
		"sent", bulk.Sent,
		"failed", bulk.Failed,
		"rate_limited", bulk.RateLimited,
	)
	return &bulk
}

func (p *Processor) release(ctx context.Context, id string) {
	if err := p.registry.Release(ctx, id); err != nil {
		p.logger.Warn("release alert reservation failed", "alert_id", id, "error", err)
	}
}

func (p *Processor) finish(ctx context.Context, out Outcome, start time.Time) Outcome {
	out.ProcessedAt = p.clock.Now()
	p.metrics.AlertOutcomes.WithLabelValues(string(out.Status)).Inc()
	p.metrics.ProcessDuration.Observe(out.ProcessedAt.Sub(start).Seconds())

	attrs := []any{"alert_id", out.AlertID, "status", out.Status, "severity", out.Severity}
	switch out.Status {
	case StatusPublished:
		p.logger.Info("alert published", attrs...)
	case StatusPublishFailed:
		attrs = append(attrs, "error", out.Err)
		if out.RetryAfter > 0 {
			attrs = append(attrs, "retry_after", out.RetryAfter)
		}
		p.logger.Error("alert publish failed", attrs...)
	default:
		p.logger.Debug("alert not published", append(attrs, "reason", out.Err)...)
	}

	if p.sink != nil {
		if err := p.sink.WriteOutcome(ctx, out); err != nil {
			p.logger.Warn("write alert outcome failed", "alert_id", out.AlertID, "error", err)
		}
	}
	return out
}
