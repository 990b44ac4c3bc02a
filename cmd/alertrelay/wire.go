package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/storm-alert-relay/internal/adapter/chatbot"
	kafkaadapter "github.com/couchcryptid/storm-alert-relay/internal/adapter/kafka"
	redisadapter "github.com/couchcryptid/storm-alert-relay/internal/adapter/redis"
	"github.com/couchcryptid/storm-alert-relay/internal/adapter/subscribers"
	"github.com/couchcryptid/storm-alert-relay/internal/config"
	"github.com/couchcryptid/storm-alert-relay/internal/dedup"
	"github.com/couchcryptid/storm-alert-relay/internal/domain"
	"github.com/couchcryptid/storm-alert-relay/internal/observability"
	"github.com/couchcryptid/storm-alert-relay/internal/processor"
	"github.com/couchcryptid/storm-alert-relay/internal/publisher"
)

// app holds the wired service and whatever must be closed on shutdown.
type app struct {
	proc    *processor.Processor
	bot     *chatbot.Client
	redis   *redisadapter.Registry
	closers []func() error
	logger  *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	var registry dedup.Registry
	switch cfg.DedupBackend {
	case config.DedupBackendRedis:
		client, err := redisadapter.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.redis = redisadapter.NewRegistry(client, cfg.DedupTTL)
		a.closers = append(a.closers, client.Close)
		registry = a.redis
		logger.Info("dedup registry: redis", "ttl", cfg.DedupTTL)
	default:
		registry = dedup.NewMemoryRegistry(cfg.DedupTTL, nil)
		logger.Info("dedup registry: memory", "ttl", cfg.DedupTTL)
	}

	a.bot = chatbot.NewClient(cfg.ChatAPIURL, cfg.ChatAPIKey, cfg.BotUsername, cfg.BotPassword, cfg.PublishTimeout, logger)

	pub := publisher.New(publisher.Config{
		BaseURL:        cfg.ChatAPIURL,
		APIKey:         cfg.ChatAPIKey,
		AssetBaseURL:   cfg.AssetBaseURL,
		AssetRetryMax:  cfg.AssetRetryMax,
		AssetCacheSize: cfg.AssetCacheSize,
		TempDir:        cfg.TempDir,
		FallbackLocation: domain.Location{
			Lat: cfg.FallbackLatitude,
			Lon: cfg.FallbackLongitude,
		},
		Timeout: cfg.PublishTimeout,
	}, publisher.NewRateLimitState(nil), metrics, logger)

	var opts []processor.Option
	if cfg.SubscribersFile != "" {
		opts = append(opts, processor.WithSubscribers(subscribers.NewFileSource(cfg.SubscribersFile, logger), cfg.ProximityKm))
		logger.Info("direct distribution enabled", "subscribers_file", cfg.SubscribersFile, "proximity_km", cfg.ProximityKm)
	} else {
		logger.Info("direct distribution disabled")
	}
	if cfg.OutcomesEnabled() {
		w := kafkaadapter.NewOutcomeWriter(cfg, logger)
		a.closers = append(a.closers, w.Close)
		opts = append(opts, processor.WithOutcomeSink(w))
		logger.Info("outcome stream enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaOutcomeTopic)
	}

	a.proc = processor.New(registry, processor.StaticThreshold(cfg.MinSeverity), pub, a.bot, metrics, logger, opts...)
	return a, nil
}

// CheckReadiness requires a live bot token and, when configured, a reachable
// Redis.
func (a *app) CheckReadiness(ctx context.Context) error {
	if err := a.proc.CheckReadiness(ctx); err != nil {
		return err
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
