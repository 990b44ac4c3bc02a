package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/couchcryptid/storm-alert-relay/internal/domain"
)

const (
	DedupBackendMemory = "memory"
	DedupBackendRedis  = "redis"

	EnvProduction = "production"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" env-default:":8080"`
	AppEnv          string        `env:"APP_ENV" env-default:"production"`
	ShutdownTimeout time.Duration

	LogLevel      string `env:"LOG_LEVEL" env-default:"info"`
	LogFormat     string `env:"LOG_FORMAT" env-default:"json"`
	LogFile       string `env:"LOG_FILE"`
	LogMaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" env-default:"100"`
	LogMaxBackups int    `env:"LOG_MAX_BACKUPS" env-default:"3"`
	LogMaxAgeDays int    `env:"LOG_MAX_AGE_DAYS" env-default:"7"`
	LogCompress   bool   `env:"LOG_COMPRESS" env-default:"true"`

	// MinSeverityName is the raw ALERT_MIN_SEVERITY value; MinSeverity is
	// the parsed ladder position.
	MinSeverityName string `env:"ALERT_MIN_SEVERITY" env-default:"Moderate"`
	MinSeverity     domain.Severity

	// Chat platform.
	ChatAPIURL     string        `env:"CHAT_API_URL" env-default:"http://localhost:3000"`
	ChatAPIKey     string        `env:"CHAT_API_KEY"`
	BotUsername    string        `env:"BOT_USERNAME" env-default:"WeatherBot"`
	BotPassword    string        `env:"BOT_PASSWORD"`
	PublishTimeout time.Duration `env:"PUBLISH_TIMEOUT" env-default:"15s"`

	// Alert icon assets.
	AssetBaseURL   string `env:"ALERT_ASSET_URL" env-default:"http://localhost:3000/assets/alerts"`
	AssetRetryMax  int    `env:"ASSET_RETRY_MAX" env-default:"2"`
	AssetCacheSize int    `env:"ASSET_CACHE_SIZE" env-default:"64"`
	TempDir        string `env:"ALERT_TEMP_DIR"`

	// Location attached to messages when neither alert nor subscriber has one.
	FallbackLatitude  float64 `env:"FALLBACK_LATITUDE" env-default:"39.8283"`
	FallbackLongitude float64 `env:"FALLBACK_LONGITUDE" env-default:"-98.5795"`

	DedupBackend string        `env:"DEDUP_BACKEND" env-default:"memory"`
	RedisURL     string        `env:"REDIS_URL"`
	DedupTTL     time.Duration `env:"DEDUP_TTL" env-default:"72h"`

	// KafkaBrokers empty disables the outcome stream.
	KafkaBrokerList   string `env:"KAFKA_BROKERS"`
	KafkaBrokers      []string
	KafkaOutcomeTopic string `env:"KAFKA_OUTCOME_TOPIC" env-default:"alert-outcomes"`

	// SubscribersFile empty disables direct distribution.
	SubscribersFile string  `env:"SUBSCRIBERS_FILE"`
	ProximityKm     float64 `env:"ALERT_PROXIMITY_KM" env-default:"0"`
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	cfg.KafkaBrokers = sharedcfg.ParseBrokers(cfg.KafkaBrokerList)

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	cfg.ShutdownTimeout = shutdownTimeout

	sev, ok := domain.LookupSeverity(cfg.MinSeverityName)
	if !ok {
		return nil, errors.New("invalid ALERT_MIN_SEVERITY")
	}
	cfg.MinSeverity = sev

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsProduction reports whether test-only endpoints must stay disabled.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, EnvProduction)
}

// OutcomesEnabled reports whether outcome events are streamed to Kafka.
func (c *Config) OutcomesEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func (c *Config) validate() error {
	if c.ShutdownTimeout <= 0 {
		return errors.New("invalid SHUTDOWN_TIMEOUT")
	}
	if c.PublishTimeout <= 0 {
		return errors.New("invalid PUBLISH_TIMEOUT")
	}
	if c.ChatAPIURL == "" {
		return errors.New("CHAT_API_URL is required")
	}
	if c.AssetRetryMax < 0 {
		return errors.New("invalid ASSET_RETRY_MAX")
	}
	if c.AssetCacheSize <= 0 {
		return errors.New("invalid ASSET_CACHE_SIZE")
	}
	if c.FallbackLatitude < -90 || c.FallbackLatitude > 90 {
		return errors.New("invalid FALLBACK_LATITUDE")
	}
	if c.FallbackLongitude < -180 || c.FallbackLongitude > 180 {
		return errors.New("invalid FALLBACK_LONGITUDE")
	}
	if c.ProximityKm < 0 {
		return errors.New("invalid ALERT_PROXIMITY_KM")
	}
	switch c.DedupBackend {
	case DedupBackendMemory:
	case DedupBackendRedis:
		if c.RedisURL == "" {
			return errors.New("DEDUP_BACKEND is redis but REDIS_URL is not set")
		}
	default:
		return errors.New("invalid DEDUP_BACKEND")
	}
	if c.OutcomesEnabled() && c.KafkaOutcomeTopic == "" {
		return errors.New("KAFKA_OUTCOME_TOPIC is required")
	}
	return nil
}
