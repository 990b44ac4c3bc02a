package observability

import (
	"io"
	"log/slog"
	"strings"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/couchcryptid/storm-alert-relay/internal/config"
)

const serviceName = "storm-alert-relay"

// NewLogger builds the service logger. Output goes to stdout unless LOG_FILE
// is set, in which case the file is rotated by lumberjack.
func NewLogger(cfg *config.Config) *slog.Logger {
	if cfg.LogFile == "" {
		return sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat).With("service", serviceName)
	}
	w := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB, // MB
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays, // days
		Compress:   cfg.LogCompress,
	}
	logger := NewLoggerWithWriter(cfg.LogLevel, cfg.LogFormat, w)
	slog.SetDefault(logger)
	return logger
}

// NewLoggerWithWriter builds a logger writing to w. Unknown levels fall back
// to info; any format other than "text" produces JSON.
func NewLoggerWithWriter(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler).With("service", serviceName)
}
