// Package publisher delivers formatted alerts to the chat platform.
//
// Each call runs up to two stages: an image message carrying the alert icon
// and, if that fails for any reason other than auth or rate limiting, a
// text-only message. A 401 triggers at most one re-authentication per call,
// shared by both stages. A 429 opens the shared backoff window and is
// returned to the caller; it is never retried here.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/storm-alert-relay/internal/domain"
	"github.com/couchcryptid/storm-alert-relay/internal/observability"
)

// Chat API endpoints, relative to Config.BaseURL.
const (
	ChannelImagePath = "/api/bot/alerts/image"
	ChannelTextPath  = "/api/bot/alerts"
	DirectImagePath  = "/api/bot/direct/image"
	DirectTextPath   = "/api/bot/direct"
)

const (
	targetChannel = "channel"
	targetDirect  = "direct"
)

// Config configures a Publisher.
type Config struct {
	BaseURL          string
	APIKey           string
	AssetBaseURL     string
	AssetRetryMax    int
	AssetCacheSize   int
	TempDir          string
	FallbackLocation domain.Location
	Timeout          time.Duration
}

// Publisher sends formatted alerts to a channel or to individual users.
type Publisher struct {
	baseURL    string
	apiKey     string
	fallback   domain.Location
	httpClient *http.Client
	assets     *assetStore
	rateLimit  *RateLimitState
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// New creates a Publisher. state is shared by every send this Publisher makes.
func New(cfg Config, state *RateLimitState, metrics *observability.Metrics, logger *slog.Logger) *Publisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if state == nil {
		state = NewRateLimitState(nil)
	}
	return &Publisher{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		fallback:   cfg.FallbackLocation,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		assets:     newAssetStore(cfg, metrics, logger),
		rateLimit:  state,
		metrics:    metrics,
		logger:     logger,
	}
}

// RateLimit exposes the shared backoff state.
func (p *Publisher) RateLimit() *RateLimitState { return p.rateLimit }

type target struct {
	kind      string
	imagePath string
	textPath  string
	recipient *domain.Subscriber
}

// PublishToChannel posts fa to the bot's alert channel.
func (p *Publisher) PublishToChannel(ctx context.Context, fa domain.FormattedAlert, bot domain.BotHandle) Result {
	return p.publish(ctx, fa, bot, target{
		kind:      targetChannel,
		imagePath: ChannelImagePath,
		textPath:  ChannelTextPath,
	})
}

// PublishToUser sends fa as a direct message to sub.
func (p *Publisher) PublishToUser(ctx context.Context, fa domain.FormattedAlert, sub domain.Subscriber, bot domain.BotHandle) Result {
	return p.publish(ctx, fa, bot, target{
		kind:      targetDirect,
		imagePath: DirectImagePath,
		textPath:  DirectTextPath,
		recipient: &sub,
	})
}

// PublishToUsers sends fa to each subscriber in order. It stops at the first
// rate-limited delivery and returns the partial tally.
func (p *Publisher) PublishToUsers(ctx context.Context, fa domain.FormattedAlert, subs []domain.Subscriber, bot domain.BotHandle) BulkResult {
	out := BulkResult{Details: make([]Delivery, 0, len(subs))}
	for i, sub := range subs {
		res := p.PublishToUser(ctx, fa, sub, bot)
		out.Details = append(out.Details, Delivery{UserID: sub.UserID, Result: res})

		switch {
		case res.Success:
			out.Sent++
			p.metrics.DirectDeliveries.WithLabelValues("sent").Inc()
		case res.RateLimited():
			out.RateLimited = true
			out.RetryAfter = res.RetryAfter
			skipped := len(subs) - i - 1
			p.metrics.DirectDeliveries.WithLabelValues("not_attempted").Add(float64(skipped))
			p.logger.Warn("bulk distribution halted by rate limit",
				"alert_id", fa.AlertID,
				"sent", out.Sent,
				"failed", out.Failed,
				"not_attempted", skipped,
				"retry_after", res.RetryAfter,
			)
			return out
		default:
			out.Failed++
			p.metrics.DirectDeliveries.WithLabelValues("failed").Inc()
			p.logger.Warn("direct alert delivery failed",
				"alert_id", fa.AlertID, "user_id", sub.UserID, "error", res.Err)
		}
	}
	out.Success = out.Failed == 0
	return out
}

func (p *Publisher) publish(ctx context.Context, fa domain.FormattedAlert, bot domain.BotHandle, tgt target) Result {
	if wait, limited := p.rateLimit.Check(); limited {
		p.logger.Info("publish skipped while rate limited",
			"alert_id", fa.AlertID, "target", tgt.kind, "retry_after", wait)
		return rateLimitedResult(fa, wait)
	}
	p.metrics.RateLimited.Set(0)

	start := time.Now()
	defer func() {
		p.metrics.PublishDuration.WithLabelValues(tgt.kind).Observe(time.Since(start).Seconds())
	}()

	auth := &authSession{bot: bot}
	if err := auth.ensure(ctx); err != nil {
		return failedResult(fa, fmt.Errorf("%w: %w", domain.ErrPublishFailure, err))
	}
	msg := p.buildMessage(fa, bot, tgt.recipient)

	img := p.imageStage(ctx, fa, msg, tgt, auth)
	switch img.outcome {
	case stageOK:
		p.rateLimit.RecordSuccess()
		return sentResult(fa, PathImage)
	case stageRateLimited:
		return p.rateLimited(fa, tgt, img)
	case stageUnauthorized:
		return failedResult(fa, fmt.Errorf("%w: %w", domain.ErrPublishFailure, img.err))
	}
	p.logger.Warn("image publish failed, falling back to text",
		"alert_id", fa.AlertID, "target", tgt.kind, "error", img.err)

	txt := p.textStage(ctx, msg, tgt, auth)
	switch txt.outcome {
	case stageOK:
		p.rateLimit.RecordSuccess()
		return sentResult(fa, PathText)
	case stageRateLimited:
		return p.rateLimited(fa, tgt, txt)
	}
	return failedResult(fa, fmt.Errorf("%w: image: %w; text: %w", domain.ErrPublishFailure, img.err, txt.err))
}

func (p *Publisher) rateLimited(fa domain.FormattedAlert, tgt target, res stageResult) Result {
	p.metrics.RateLimited.Set(1)
	p.metrics.RateLimitEvents.Inc()
	p.logger.Warn("chat api rate limit hit",
		"alert_id", fa.AlertID, "target", tgt.kind, "retry_after", res.retryAfter)
	return rateLimitedResult(fa, res.retryAfter)
}

func (p *Publisher) buildMessage(fa domain.FormattedAlert, bot domain.BotHandle, recipient *domain.Subscriber) message {
	loc := p.fallback
	switch {
	case recipient != nil && recipient.Location != nil:
		loc = *recipient.Location
	case fa.Coordinates != nil:
		loc = domain.Location{Lat: fa.Coordinates.Lat, Lon: fa.Coordinates.Lon}
	}

	username := bot.Username()
	msg := message{
		Message:        fa.Content,
		Title:          fa.Title,
		MessageID:      uuid.NewString(),
		Username:       username,
		SenderUsername: username,
		Sender:         username,
		AlertID:        fa.AlertID,
		Severity:       fa.Severity.String(),
		Urgency:        fa.Urgency,
		Certainty:      fa.Certainty,
		Source:         fa.Source,
		Type:           "alert",
		IsAPIMessage:   true,
		Location: location{
			Latitude:      loc.Lat,
			Longitude:     loc.Lon,
			FuzzyLocation: true,
		},
	}
	if recipient != nil {
		msg.RecipientID = recipient.UserID
	}
	return msg
}
