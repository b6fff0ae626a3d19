package app

import (
	"context"
	"fmt"

	"github.com/huemap/core/internal/config"
	"github.com/huemap/core/internal/modules/auth/auth"
	pkgcron "github.com/huemap/core/internal/pkg/cron"
	"go.uber.org/zap"
)

const sweepJobName = "sweep_expired_sessions"

// registerCronJobs registers the authority's background jobs.
func registerCronJobs(sched *pkgcron.Scheduler, svc *auth.Service, cfg *config.AppConfig, logger *zap.Logger) error {
	cronLogger := logger.Named("CronService")

	return sched.Register(pkgcron.Job{
		Name:        sweepJobName,
		Description: "Delete sessions whose expiry has passed",
		Interval:    cfg.SweepInterval,
		Fn: func(ctx context.Context) error {
			n, err := svc.SweepExpired(ctx)
			if err != nil {
				// the scheduler logs it and records the job as rejected; the
				// next tick retries
				return fmt.Errorf("sweep expired sessions: %w", err)
			}
			if n > 0 {
				cronLogger.Info("expired sessions swept", zap.Int64("deleted", n))
			}
			return nil
		},
	})
}
