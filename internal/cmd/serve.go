package cmd

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/namelens/ratelane/internal/config"
	"github.com/namelens/ratelane/internal/core"
	"github.com/namelens/ratelane/internal/core/engine"
	"github.com/namelens/ratelane/internal/core/store"
	errwrap "github.com/namelens/ratelane/internal/errors"
	"github.com/namelens/ratelane/internal/metrics"
	"github.com/namelens/ratelane/internal/observability"
	"github.com/namelens/ratelane/internal/server"
	"github.com/namelens/ratelane/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
	apiPrefix  string
)

// signalHealthChecker implements HealthChecker for signal system
type signalHealthChecker struct{}

func (s signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil
}

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// schedulerHealthChecker fails once the scheduler stops accepting requests.
type schedulerHealthChecker struct {
	manager *engine.Manager
}

func (s schedulerHealthChecker) CheckHealth(ctx context.Context) error {
	if s.manager == nil || s.manager.Closed() {
		return errwrap.NewUnavailableError("scheduler is not accepting requests")
	}
	if !s.manager.HasToken() {
		return errwrap.NewUnavailableError("no API token configured")
	}
	if s.manager.Global().Limited() {
		return fmt.Errorf("global rate limit in effect: %w", handlers.ErrDegraded)
	}
	return nil
}

// storeHealthChecker verifies the bucket hash store answers queries.
type storeHealthChecker struct {
	store store.BucketStore
}

func (s storeHealthChecker) CheckHealth(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	if _, err := s.store.CountBuckets(ctx, store.BucketQuery{All: true}); err != nil {
		return errwrap.WrapDatabaseError(ctx, err, "bucket store unavailable")
	}
	return nil
}

// rejectPolicy holds the reject-on-rate-limit policy so config reloads can
// swap it without rebuilding the scheduler.
type rejectPolicy struct {
	current atomic.Value
}

func newRejectPolicy(prefixes []string) *rejectPolicy {
	p := &rejectPolicy{}
	p.set(prefixes)
	return p
}

func (p *rejectPolicy) set(prefixes []string) {
	p.current.Store(engine.RejectPrefixes(prefixes...))
}

func (p *rejectPolicy) reject(ctx context.Context, data core.RateLimitData) bool {
	policy, _ := p.current.Load().(engine.RejectPolicy)
	return policy != nil && policy(ctx, data)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler as an HTTP proxy",
	Long: `Run the scheduler behind an HTTP server. Requests under the API prefix
(default /api) are forwarded upstream through the shared rate limit state.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Config reload

Learned bucket hashes are saved on shutdown when rest.persist_hashes is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		identity := GetAppIdentity()
		namespace := identity.TelemetryNamespace

		cfg, err := loadedConfig(ctx)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("host") {
			cfg.Server.Host = serverHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = serverPort
		}

		observability.InitServerLogger(identity.BinaryName, cfg.Logging.Level, namespace)
		logger := observability.ServerLogger

		metricsPort := cfg.Metrics.Port
		if metricsPort == 0 {
			metricsPort = 9090
		}
		if err := observability.InitMetrics(identity.BinaryName, metricsPort, namespace); err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			return errwrap.WrapInternal(ctx, err, "metrics initialization failed")
		}

		engineLevel := zap.NewAtomicLevelAt(observability.ZapLevel(cfg.Logging.Level))
		reject := newRejectPolicy(cfg.REST.RejectOnRateLimit)
		manager, err := newScheduler(cfg, schedulerSettings{
			logger:  logger,
			level:   engineLevel,
			metrics: true,
			reject:  reject.reject,
		})
		if err != nil {
			return err
		}
		if !manager.HasToken() {
			logger.Warn("No API token configured; requests must carry their own Authorization header")
		}

		var hashes store.BucketStore
		if cfg.REST.PersistHashes {
			hashes, err = store.OpenBuckets(ctx, cfg.Store)
			if err != nil {
				manager.Close()
				return errwrap.WrapDatabaseError(ctx, err, "open bucket store")
			}
			restored, err := manager.Restore(ctx, hashes)
			if err != nil {
				logger.Warn("Failed to restore bucket hashes", zap.Error(err))
			} else {
				logger.Info("Restored bucket hashes",
					zap.Int("count", restored),
					zap.String("driver", hashes.Driver()))
				metrics.RecordHashesRestored(hashes.Driver(), restored)
			}
		}

		logger.Info("Initializing server",
			zap.String("service", identity.BinaryName),
			zap.String("namespace", namespace),
			zap.String("version", versionInfo.Version),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", metricsPort),
			zap.String("api", manager.Options().API),
			zap.String("api_version", manager.Options().Version))

		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		hm.RegisterChecker("signal_handlers", signalHealthChecker{})
		hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		hm.RegisterChecker("scheduler", schedulerHealthChecker{manager: manager})
		if hashes != nil {
			hm.RegisterChecker("bucket_store", storeHealthChecker{store: hashes})
		}

		handlers.SetAppIdentity(identity)
		handlers.SetSchedulerInfo(handlers.SchedulerInfo{
			API:        manager.Options().API,
			APIVersion: manager.Options().Version,
			UserAgent:  strings.TrimSpace(engine.DefaultUserAgent + " " + manager.Options().UserAgentAppendix),
		})

		srv := server.New(server.Options{
			Server:    cfg.Server,
			APIPrefix: apiPrefix,
			Manager:   manager,
			Store:     hashes,
		})

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Registered LIFO: HTTP server first, then the scheduler and store,
		// then the logger flush.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			manager.Close()
			if hashes == nil {
				return nil
			}
			defer hashes.Close() // nolint:errcheck // best-effort cleanup
			if err := manager.Persist(ctx, hashes); err != nil {
				logger.Error("Failed to persist bucket hashes", zap.Error(err))
				return errwrap.WrapDatabaseError(ctx, err, "persist bucket hashes")
			}
			persisted := manager.Buckets().Len()
			logger.Info("Persisted bucket hashes", zap.Int("count", persisted))
			metrics.RecordHashesPersisted(hashes.Driver(), persisted)
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		applyReload := func(next *config.Config) {
			engineLevel.SetLevel(observability.ZapLevel(next.Logging.Level))
			reject.set(next.REST.RejectOnRateLimit)
			if token := strings.TrimSpace(next.REST.Token); token != "" {
				manager.SetToken(token)
			}
			logger.Info("Configuration applied",
				zap.String("log_level", next.Logging.Level),
				zap.Strings("reject_on_rate_limit", next.REST.RejectOnRateLimit))
		}

		if config.Watch(func(next *config.Config, event fsnotify.Event, err error) {
			if err != nil {
				logger.Error("Config file change rejected", zap.String("file", event.Name), zap.Error(err))
				return
			}
			logger.Info("Config file changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
			applyReload(next)
		}) {
			logger.Info("Watching config file", zap.String("file", config.ConfigFileUsed()))
		}

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: reloading configuration")
			next, err := config.Load(ctx, cliOverrides())
			if err != nil {
				logger.Error("Failed to reload config", zap.String("file", config.ConfigFileUsed()), zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}
			applyReload(next)
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		metrics.SetServerStartTime(time.Now())
		errChan := make(chan error, 1)
		go func() {
			logger.Info("Starting HTTP server...", zap.String("addr", srv.Addr()))
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(ctx); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(ctx, err, "server error")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")
	serveCmd.Flags().StringVar(&apiPrefix, "api-prefix", server.DefaultAPIPrefix, "path prefix forwarded through the scheduler")
}
