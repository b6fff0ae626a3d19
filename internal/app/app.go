package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huemap/core/internal/config"
	"github.com/huemap/core/internal/database"
	"github.com/huemap/core/internal/middleware"
	"github.com/huemap/core/internal/modules/auth/auth"
	"github.com/huemap/core/internal/modules/gateway/authclient"
	"github.com/huemap/core/internal/modules/gateway/forwarder"
	"github.com/huemap/core/internal/modules/gateway/verifycache"
	"github.com/huemap/core/internal/pkg/cluster"
	pkgcron "github.com/huemap/core/internal/pkg/cron"
	"github.com/huemap/core/internal/pkg/events"
	jwtpkg "github.com/huemap/core/internal/pkg/jwt"
	"github.com/huemap/core/internal/pkg/kv"
	"github.com/huemap/core/internal/pkg/observability"
	pkgredis "github.com/huemap/core/internal/pkg/redis"
	"github.com/huemap/core/internal/pkg/session"
	"github.com/huemap/core/internal/pkg/users"
	"go.uber.org/zap"
)

// App is one runnable service: either the session authority or the gateway.
type App struct {
	addr    string
	router  *gin.Engine
	logger  *zap.Logger
	cancel  context.CancelFunc
	sched   *pkgcron.Scheduler
	drain   func()
	closers []func() error
}

// AuthorityDeps are the stores behind the session authority.
type AuthorityDeps struct {
	Users    users.Store
	Sessions session.Store
	Recorder events.Recorder
}

// NewAuthority connects MySQL (and Mongo when configured) and builds the
// session authority with its sweep job.
func NewAuthority(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := cfg.RequireAuthority(); err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg, false)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	closers := []func() error{func() error { return database.Close(db) }}

	recorder := events.Multi{events.NewZapRecorder(logger)}
	if cfg.Mongo.Enabled() {
		mr, err := events.ConnectMongo(context.Background(), cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection)
		if err != nil {
			closeAll(closers, logger)
			return nil, fmt.Errorf("mongo: %w", err)
		}
		recorder = append(recorder, mr)
		closers = append(closers, func() error { return mr.Close(context.Background()) })
	}

	a, err := NewAuthorityWith(logger, cfg, AuthorityDeps{
		Users:    users.NewGormStore(db),
		Sessions: session.NewGormStore(db),
		Recorder: recorder,
	})
	if err != nil {
		closeAll(closers, logger)
		return nil, err
	}
	a.closers = append(a.closers, closers...)
	return a, nil
}

// NewAuthorityWith builds the authority over caller supplied stores.
func NewAuthorityWith(logger *zap.Logger, cfg *config.AppConfig, deps AuthorityDeps) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc, err := newAuthService(logger, cfg, deps)
	if err != nil {
		return nil, err
	}

	sched := pkgcron.New(pkgcron.WithLogger(logger))
	if err := registerCronJobs(sched, svc, cfg, logger); err != nil {
		return nil, err
	}

	router := newEngine(cfg, logger)
	ctx, cancel := context.WithCancel(context.Background())
	if cluster.ShouldRunCron() {
		sched.Start(ctx)
	} else {
		logger.Info("scheduled jobs left to instance 0")
	}

	a := &App{
		addr:   fmt.Sprintf(":%d", cfg.Port),
		router: router,
		logger: logger,
		cancel: cancel,
		sched:  sched,
		drain:  svc.WaitEvents,
	}
	a.registerAuthorityRoutes(svc)
	return a, nil
}

// NewGateway connects Redis and builds the edge gateway.
func NewGateway(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := cfg.RequireGateway(); err != nil {
		return nil, err
	}

	rc, err := pkgredis.Connect(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	authority := authclient.New(cfg.Services[forwarder.AuthService])
	a, err := NewGatewayWith(logger, cfg, rc, authority)
	if err != nil {
		_ = rc.Close()
		return nil, err
	}
	a.closers = append(a.closers, rc.Close)
	return a, nil
}

// NewGatewayWith builds the gateway over store and the given authority.
func NewGatewayWith(logger *zap.Logger, cfg *config.AppConfig, store kv.Store, authority verifycache.Verifier) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := cfg.RequireGateway(); err != nil {
		return nil, err
	}

	limiter := middleware.NewLimiter(store,
		middleware.WithLimit(cfg.RateLimit.Max, cfg.RateLimit.Window),
		middleware.WithLimiterLogger(logger),
	)
	cache := verifycache.New(store,
		verifycache.WithTTL(cfg.VerifyCacheTTL),
		verifycache.WithLogger(logger),
	)
	fwd, err := forwarder.New(cfg.Services, cache, authority, forwarder.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	a := &App{
		addr:   fmt.Sprintf(":%d", cfg.Gateway.Port),
		router: newEngine(cfg, logger),
		logger: logger,
		cancel: func() {},
	}
	a.registerGatewayRoutes(limiter, fwd)
	return a, nil
}

func newAuthService(logger *zap.Logger, cfg *config.AppConfig, deps AuthorityDeps) (*auth.Service, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := cfg.RequireAuthority(); err != nil {
		return nil, err
	}
	if deps.Users == nil || deps.Sessions == nil {
		return nil, errors.New("authority needs a user store and a session store")
	}
	return auth.NewService(deps.Users, deps.Sessions, jwtpkg.New(cfg.JWTSecret, cfg.TokenTTL),
		auth.WithGracePeriod(cfg.RefreshGrace),
		auth.WithRecorder(deps.Recorder),
		auth.WithLogger(logger),
	), nil
}

// SweepOnce deletes every expired session right away and reports how many
// rows went.
func SweepOnce(ctx context.Context, logger *zap.Logger, cfg *config.AppConfig) (int64, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		return 0, errors.New("config is nil")
	}
	db, err := database.Connect(cfg, false)
	if err != nil {
		return 0, fmt.Errorf("database: %w", err)
	}
	defer database.Close(db)

	n, err := session.NewGormStore(db).DeleteAllExpired(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	logger.Info("expired sessions swept", zap.Int64("deleted", n))
	return n, nil
}

// newEngine sets up the middleware every service shares: panic recovery,
// request logging and CORS.
func newEngine(cfg *config.AppConfig, logger *zap.Logger) *gin.Engine {
	configureGinMode(cfg)
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(observability.Recover(logger))
	router.Use(middleware.Logger(logger))
	router.Use(newCORS(cfg))
	return router
}

// Addr returns the listen address.
func (a *App) Addr() string { return a.addr }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Scheduler is nil for the gateway.
func (a *App) Scheduler() *pkgcron.Scheduler { return a.sched }

// Shutdown stops background jobs, lets pending audit events reach their
// sinks and releases connections.
func (a *App) Shutdown() {
	a.cancel()
	if a.sched != nil {
		a.sched.Wait()
	}
	if a.drain != nil {
		a.drain()
	}
	closeAll(a.closers, a.logger)
}

func closeAll(closers []func() error, logger *zap.Logger) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}
}
