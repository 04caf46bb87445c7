package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/namelens/ratelane/internal/config"
	"github.com/namelens/ratelane/internal/core"
	"github.com/namelens/ratelane/internal/core/store"
	"github.com/namelens/ratelane/internal/observability"
)

var (
	doctorOffline     bool
	doctorInitForce   bool
	doctorResetConfig bool
	doctorResetData   bool
	doctorResetAll    bool
)

// doctorGatewayPath is an unauthenticated route used to probe connectivity.
const doctorGatewayPath = "/gateway"

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long:  "Check configuration, credentials, the bucket store and upstream connectivity.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := observability.CLILogger
		identity := GetAppIdentity()

		logger.Info("=== " + identity.BinaryName + " doctor ===")
		logger.Info("")

		allChecks := true
		totalChecks := 6

		version := crucible.GetVersion()
		logger.Info(fmt.Sprintf("[1/%d] Runtime... ✅ %s %s/%s (gofulmen %s)", totalChecks, runtime.Version(), runtime.GOOS, runtime.GOARCH, version.Gofulmen),
			zap.String("go_version", runtime.Version()),
			zap.String("crucible_version", version.Crucible))

		cfg, err := loadedConfig(ctx)
		if err != nil {
			logger.Error(fmt.Sprintf("[2/%d] Configuration... ❌ %v", totalChecks, err))
			return err
		}
		source := config.ConfigFileUsed()
		if source == "" {
			source = "defaults and environment"
		}
		logger.Info(fmt.Sprintf("[2/%d] Configuration... ✅ %s", totalChecks, source))

		if strings.TrimSpace(cfg.REST.Token) != "" {
			logger.Info(fmt.Sprintf("[3/%d] API token... ✅ set", totalChecks))
		} else {
			logger.Warn(fmt.Sprintf("[3/%d] API token... ⚠️  not set (use --token or %sTOKEN)", totalChecks, config.EnvPrefix()))
			allChecks = false
		}

		if !cfg.REST.PersistHashes {
			logger.Info(fmt.Sprintf("[4/%d] Bucket store... ✅ persistence disabled", totalChecks))
		} else if count, err := countStoredBuckets(ctx, cfg.Store); err != nil {
			logger.Warn(fmt.Sprintf("[4/%d] Bucket store... ⚠️  %v", totalChecks, err), zap.String("driver", cfg.Store.Driver))
			allChecks = false
		} else {
			logger.Info(fmt.Sprintf("[4/%d] Bucket store... ✅ %d stored hash(es)", totalChecks, count), zap.String("driver", cfg.Store.Driver))
		}

		logger.Info(fmt.Sprintf("[5/%d] Scheduler... ✅ %d req/s global, offset %s, %d retries, burst routes %v", totalChecks,
			cfg.REST.GlobalRequestsPerSecond, cfg.REST.Offset, cfg.REST.Retries, cfg.REST.BurstRoutes))

		if doctorOffline {
			logger.Info(fmt.Sprintf("[6/%d] Upstream... skipped (--offline)", totalChecks))
		} else if result, err := probeUpstream(ctx, cfg); err != nil {
			logger.Warn(fmt.Sprintf("[6/%d] Upstream... ⚠️  %v", totalChecks, err))
			allChecks = false
		} else {
			logger.Info(fmt.Sprintf("[6/%d] Upstream... ✅ %s answered %d in %dms", totalChecks, cfg.REST.API, result.Status, result.DurationMS))
		}

		logger.Info("")
		if allChecks {
			logger.Info("✅ All checks passed")
		} else {
			logger.Warn("⚠️  Some checks failed. Review the output above for details.")
		}
		return nil
	},
}

func countStoredBuckets(ctx context.Context, cfg config.StoreConfig) (int, error) {
	db, err := store.OpenBuckets(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup
	return db.CountBuckets(ctx, store.BucketQuery{All: true})
}

func probeUpstream(ctx context.Context, cfg *config.Config) (*core.RequestResult, error) {
	manager, err := newScheduler(cfg, schedulerSettings{})
	if err != nil {
		return nil, err
	}
	defer manager.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result := dispatch(ctx, manager, core.RequestSpec{Method: http.MethodGet, Path: doctorGatewayPath, NoAuth: true})
	if result.Error != "" {
		return nil, errors.New(result.Error)
	}
	return result, nil
}

var doctorInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.DefaultConfigPath()
		if configPath == "" {
			return fmt.Errorf("config path not resolved")
		}
		if fileExists(configPath) {
			if !doctorInitForce {
				return fmt.Errorf("config file already exists: %s (use --force to overwrite)", configPath)
			}
			if err := os.Remove(configPath); err != nil {
				return fmt.Errorf("remove existing config: %w", err)
			}
		}
		if err := config.WriteDefaultConfig(configPath); err != nil {
			return err
		}
		observability.CLILogger.Info("Config initialized", zap.String("path", configPath))
		observability.CLILogger.Info("Set the API token with " + config.EnvPrefix() + "TOKEN or rest.token")
		return nil
	},
}

var doctorConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration paths and effective settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.CLILogger
		configPath := config.DefaultConfigPath()

		logger.Info("Configuration:")
		logger.Info(fmt.Sprintf("  Config file:    %s (%s)", configPath, existenceStatus(fileExists(configPath))))
		if dataDir := config.DefaultDataDir(); dataDir != "" {
			logger.Info(fmt.Sprintf("  Data directory: %s (%s)", dataDir, existenceStatus(fileExists(dataDir))))
		}

		cfg, err := loadedConfig(cmd.Context())
		if err != nil {
			return err
		}

		logger.Info("")
		logger.Info("Store:")
		logger.Info("  Driver:         " + storeDriver(cfg.Store))
		switch {
		case storeDriver(cfg.Store) == "redis":
			addr := cfg.Store.RedisAddr
			if cfg.Store.URL != "" {
				addr = cfg.Store.URL
			}
			logger.Info("  Address:        " + addr)
		case cfg.Store.URL != "":
			logger.Info("  URL:            " + cfg.Store.URL)
		default:
			absPath, _ := filepath.Abs(cfg.Store.Path)
			logger.Info("  Path:           " + absPath)
		}

		logger.Info("")
		logger.Info("Scheduler:")
		logger.Info("  API:            " + cfg.REST.API)
		logger.Info("  Version:        " + cfg.REST.Version)
		logger.Info("  Token:          " + envStatusValue(cfg.REST.Token))
		logger.Info(fmt.Sprintf("  Global limit:   %d req/s", cfg.REST.GlobalRequestsPerSecond))
		logger.Info(fmt.Sprintf("  Offset:         %s", cfg.REST.Offset))
		logger.Info(fmt.Sprintf("  Retries:        %d", cfg.REST.Retries))
		logger.Info(fmt.Sprintf("  Timeout:        %s", cfg.REST.Timeout))
		logger.Info(fmt.Sprintf("  Hash sweep:     every %s, lifetime %s", cfg.REST.HashSweepInterval, cfg.REST.HashLifetime))
		logger.Info(fmt.Sprintf("  Handler sweep:  every %s", cfg.REST.HandlerSweepInterval))
		logger.Info(fmt.Sprintf("  Reject routes:  %v", cfg.REST.RejectOnRateLimit))
		logger.Info(fmt.Sprintf("  Persist hashes: %t", cfg.REST.PersistHashes))
		return nil
	},
}

var doctorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset user configuration and/or stored bucket hashes",
	RunE: func(cmd *cobra.Command, args []string) error {
		if doctorResetAll {
			doctorResetConfig = true
			doctorResetData = true
		}
		if !doctorResetConfig && !doctorResetData {
			return fmt.Errorf("specify --config, --data, or --all")
		}

		if doctorResetConfig {
			configPath := config.DefaultConfigPath()
			if configPath == "" {
				observability.CLILogger.Warn("Config path not resolved; skipping config reset")
			} else if err := os.Remove(configPath); err == nil {
				observability.CLILogger.Info("Config removed", zap.String("path", configPath))
			} else if os.IsNotExist(err) {
				observability.CLILogger.Info("Config already removed", zap.String("path", configPath))
			} else {
				return fmt.Errorf("remove config file: %w", err)
			}
		}

		if doctorResetData {
			db, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close() // nolint:errcheck // best-effort cleanup
			deleted, err := db.ResetBuckets(cmd.Context(), store.BucketQuery{All: true})
			if err != nil {
				return err
			}
			observability.CLILogger.Info("Bucket hashes removed", zap.Int64("deleted", deleted), zap.String("driver", db.Driver()))
		}
		return nil
	},
}

var doctorValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the current config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := strings.TrimSpace(cfgFile)
		if configPath == "" {
			configPath = config.DefaultConfigPath()
		}
		if !fileExists(configPath) {
			return fmt.Errorf("config file not found: %s", configPath)
		}

		config.SetConfigFile(configPath)
		if _, err := config.Load(cmd.Context()); err != nil {
			return err
		}

		observability.CLILogger.Info("Config is valid", zap.String("path", configPath))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.AddCommand(doctorInitCmd)
	doctorCmd.AddCommand(doctorConfigCmd)
	doctorCmd.AddCommand(doctorResetCmd)
	doctorCmd.AddCommand(doctorValidateCmd)

	doctorCmd.Flags().BoolVar(&doctorOffline, "offline", false, "skip the upstream connectivity check")
	doctorInitCmd.Flags().BoolVar(&doctorInitForce, "force", false, "overwrite existing config file")
	doctorResetCmd.Flags().BoolVar(&doctorResetConfig, "config", false, "remove user config file")
	doctorResetCmd.Flags().BoolVar(&doctorResetData, "data", false, "remove stored bucket hashes")
	doctorResetCmd.Flags().BoolVar(&doctorResetAll, "all", false, "remove config and data")
}

func storeDriver(cfg config.StoreConfig) string {
	if driver := strings.TrimSpace(cfg.Driver); driver != "" {
		return driver
	}
	return "libsql"
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func existenceStatus(exists bool) string {
	if exists {
		return "exists"
	}
	return "missing"
}

func envStatusValue(value string) string {
	if strings.TrimSpace(value) != "" {
		return "(set)"
	}
	return "(not set)"
}
