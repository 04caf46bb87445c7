package cmd

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/namelens/ratelane/internal/config"
	"github.com/namelens/ratelane/internal/core"
	"github.com/namelens/ratelane/internal/core/engine"
	"github.com/namelens/ratelane/internal/metrics"
	"github.com/namelens/ratelane/internal/observability"
)

// schedulerSettings controls how a Manager is wired into the process.
type schedulerSettings struct {
	logger  *logging.Logger
	level   zapcore.LevelEnabler
	metrics bool
	reject  engine.RejectPolicy
}

// newScheduler builds a Manager from the rest config section. The returned
// Manager must be closed by the caller.
func newScheduler(cfg *config.Config, settings schedulerSettings) (*engine.Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	logger := settings.logger
	if logger == nil {
		logger = observability.CLILogger
	}
	level := settings.level
	if level == nil {
		level = observability.ZapLevel(cfg.Logging.Level)
	}

	opts := config.ToEngineOptions(cfg.REST)
	opts.Logger = observability.EngineLogger(logger, level)
	opts.Hooks = schedulerHooks(logger)
	if settings.metrics {
		opts.Hooks = metrics.Hooks(opts.Hooks)
	}
	if settings.reject != nil {
		opts.RejectOnRateLimit = settings.reject
	}

	manager, err := engine.New(opts)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	if token := strings.TrimSpace(cfg.REST.Token); token != "" {
		manager.SetToken(token)
	}
	return manager, nil
}

// schedulerHooks logs scheduler events.
func schedulerHooks(logger *logging.Logger) engine.Hooks {
	if logger == nil {
		return engine.Hooks{}
	}
	return engine.Hooks{
		OnDebug: func(message string) {
			logger.Debug(message)
		},
		OnRateLimited: func(data core.RateLimitData) {
			logger.Warn("Rate limited",
				zap.Bool("global", data.Global),
				zap.String("method", data.Method),
				zap.String("route", data.Route),
				zap.String("major_parameter", data.MajorParameter),
				zap.String("hash", data.Hash),
				zap.Float64("limit", data.Limit),
				zap.Duration("time_to_reset", data.TimeToReset),
				zap.Duration("retry_after", data.RetryAfter),
				zap.Duration("sublimit_timeout", data.SublimitTimeout),
				zap.String("scope", string(data.Scope)))
		},
		OnInvalidRequestWarning: func(warning core.InvalidRequestWarning) {
			logger.Warn("Invalid request threshold reached",
				zap.Int("count", warning.Count),
				zap.Duration("remaining_time", warning.RemainingTime))
		},
		OnHashSweep: func(evicted map[string]core.BucketHash) {
			if len(evicted) > 0 {
				logger.Info("Swept bucket hashes", zap.Int("evicted", len(evicted)))
			}
		},
		OnHandlerSweep: func(evicted []string) {
			if len(evicted) > 0 {
				logger.Info("Swept handlers", zap.Int("evicted", len(evicted)))
			}
		},
	}
}
