package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/huemap/core/internal/app"
	"github.com/huemap/core/internal/config"
	"github.com/huemap/core/internal/pkg/proctitle"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var authorityCmd = &cobra.Command{
	Use:   "authority",
	Short: "Run the session authority and its expired-session sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve("authority", app.NewAuthority)
	},
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the edge gateway in front of the configured services",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve("gateway", app.NewGateway)
	},
}

func serve(role string, build func(*zap.Logger, *config.AppConfig) (*app.App, error)) error {
	cfg, logger, cleanup, err := bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()
	logger = logger.With(zap.String("role", role))
	if err := proctitle.SetRole(role); err != nil {
		logger.Debug("process title unchanged", zap.Error(err))
	}

	application, err := build(logger, cfg)
	if err != nil {
		logger.Error("failed to initialize app", zap.Error(err))
		return err
	}

	srv := &http.Server{
		Addr:              application.Addr(),
		Handler:           application.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		logger.Info("shutting down server...")
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			application.Shutdown()
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := srv.Shutdown(ctx)
	application.Shutdown()
	if shutdownErr != nil {
		logger.Error("forced shutdown", zap.Error(shutdownErr))
		return shutdownErr
	}
	logger.Info("server exited")
	return nil
}
