package observability

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig selects the log level and encoding ("json" or "console").
type LogConfig struct {
	Level  string `env:"LOG_LEVEL"  envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// The base logger is process-wide; per-call fields come from the context, never the logger
// stored in it.
//
//nolint:gochecknoglobals // singleton logger
var (
	baseLogger *zap.Logger
	baseMu     sync.RWMutex
)

// NewLogger builds a logger for cfg without installing it.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapCfg := zap.NewProductionConfig()
	switch cfg.Format {
	case "", "json":
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// InitLogger builds the base logger and installs it (called once at startup).
func InitLogger(cfg *LogConfig) (*zap.Logger, error) {
	if cfg == nil {
		cfg = &LogConfig{}
	}

	logger, err := NewLogger(*cfg)
	if err != nil {
		return nil, err
	}

	SetLogger(logger)
	return logger, nil
}

// SetLogger replaces the base logger. A nil logger restores the fallback.
func SetLogger(logger *zap.Logger) {
	baseMu.Lock()
	baseLogger = logger
	baseMu.Unlock()
}

func base() *zap.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()

	if baseLogger == nil {
		return zap.L()
	}
	return baseLogger
}

//nolint:gochecknoglobals // read-only field order
var loggedKeys = []contextKey{TraceIDKey, SpanIDKey, RequestIDKey, SessionIDKey, ModelKey}

// FromContext returns the base logger decorated with the ids carried by ctx.
func FromContext(ctx context.Context) *zap.Logger {
	fields := make([]zap.Field, 0, len(loggedKeys))
	for _, key := range loggedKeys {
		if v := stringValue(ctx, key); v != "" {
			fields = append(fields, zap.String(string(key), v))
		}
	}

	if len(fields) == 0 {
		return base()
	}
	return base().With(fields...)
}
