package app

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huemap/core/internal/middleware"
	"github.com/huemap/core/internal/modules/auth/auth"
	"github.com/huemap/core/internal/modules/gateway/forwarder"
	"github.com/huemap/core/internal/pkg/response"
)

var processStart = time.Now()

func (a *App) registerAuthorityRoutes(svc *auth.Service) {
	api := a.router.Group("/api")
	api.GET("/health", a.health("authority"))

	authMW := middleware.Auth(svc, a.logger)
	auth.NewHandler(svc).RegisterRoutes(api, authMW)

	a.router.NoRoute(response.NotFound)
	a.router.NoMethod(response.MethodNotAllowed)
}

// registerGatewayRoutes keeps /health outside the limiter; everything under
// /api is counted before it is authenticated and relayed.
func (a *App) registerGatewayRoutes(limiter *middleware.Limiter, fwd *forwarder.Forwarder) {
	a.router.GET("/health", a.health("gateway"))

	api := a.router.Group("/api", middleware.RateLimit(limiter))
	fwd.RegisterRoutes(api)

	a.router.NoRoute(response.NotFound)
	a.router.NoMethod(response.MethodNotAllowed)
}

func (a *App) health(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status": "ok",
			"role":   role,
			"uptime": int64(time.Since(processStart).Seconds()),
		}
		if a.sched != nil {
			body["jobs"] = a.sched.List()
		}
		response.OK(c, body)
	}
}
