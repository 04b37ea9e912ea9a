// Package logging wraps zap.Logger with pricewatch-specific helpers,
// adapted from the teacher's common/libraries/go/iaros-core/logging package.
package logging

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with service identity fields.
type Logger struct {
	*zap.Logger
	service string
}

// Config controls logger construction.
type Config struct {
	Level       string
	Service     string
	Environment string
	Format      string // json or console
}

// New creates a new structured logger for the given service.
func New(cfg Config) *Logger {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Environment == "" {
		cfg.Environment = getEnv("PRICEWATCH_ENV", "development")
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
	base := zap.New(core, zap.AddCaller()).With(
		zap.String("service", cfg.Service),
		zap.String("environment", cfg.Environment),
	)

	return &Logger{Logger: base, service: cfg.Service}
}

// WithFields returns a child logger carrying the given structured fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	return &Logger{Logger: l.Logger.With(zapFields...), service: l.service}
}

// WithError returns a child logger carrying the given error.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{Logger: l.Logger.With(zap.Error(err)), service: l.service}
}

// ScrapeLogger logs the outcome of one scrape attempt.
func (l *Logger) ScrapeLogger(trackerID, url, kind string, attempt int, duration time.Duration, success bool) {
	fields := []zap.Field{
		zap.String("tracker_id", trackerID),
		zap.String("url", url),
		zap.String("outcome", kind),
		zap.Int("attempt", attempt),
		zap.Duration("duration", duration),
	}
	if success {
		l.Info("scrape completed", fields...)
	} else {
		l.Warn("scrape failed", fields...)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
