package main

import (
	"fmt"

	"github.com/huemap/core/internal/app"
	"github.com/huemap/core/internal/database"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete all expired sessions now and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, cleanup, err := bootstrap()
		if err != nil {
			return err
		}
		defer cleanup()

		n, err := app.SweepOnce(cmd.Context(), logger, cfg)
		if err != nil {
			logger.Error("sweep failed", zap.Error(err))
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired sessions\n", n)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the user and session tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, cleanup, err := bootstrap()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := database.EnsureSchema(cfg); err != nil {
			logger.Error("migration failed", zap.Error(err))
			return err
		}
		logger.Info("schema up to date")
		return nil
	},
}
