package main

import (
	"fmt"

	"github.com/huemap/core/internal/config"
	"github.com/huemap/core/internal/pkg/logging"
	"github.com/huemap/core/internal/pkg/observability"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "HueMap session authority and edge gateway",
	Long: `Runs one of the HueMap backend roles: the session authority that issues
and verifies credentials, or the edge gateway that rate limits, authenticates
and relays requests to downstream services.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath, "Path to YAML config file")
	rootCmd.AddCommand(authorityCmd, gatewayCmd, sweepCmd, migrateCmd)
}

// bootstrap loads the config and builds the process logger. Sentry is
// initialised when a DSN is configured; callers must run the returned
// cleanup before exiting.
func bootstrap() (*config.AppConfig, *zap.Logger, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		logger, _ = zap.NewProduction()
		logger.Warn("log pipeline unavailable, fallback to zap production logger", zap.Error(err))
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Env); err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}

	cleanup := func() {
		observability.FlushSentry()
		_ = logger.Sync()
	}
	return cfg, logger, cleanup, nil
}
