package app

import (
	"github.com/gin-gonic/gin"
	"github.com/huemap/core/internal/config"
)

// configureGinMode keeps gin's debug output for development only.
func configureGinMode(cfg *config.AppConfig) {
	if gin.Mode() == gin.TestMode {
		return
	}
	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
		return
	}
	gin.SetMode(gin.ReleaseMode)
}
