package observability

import (
	"net/http"
	"runtime/debug"

	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recover turns handler panics into a 500 and reports them.
func Recover(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			hub := sentry.CurrentHub().Clone()
			hub.WithScope(func(scope *sentry.Scope) {
				scope.SetRequest(c.Request)
				scope.SetExtra("panic", rec)
				scope.SetExtra("stack", string(debug.Stack()))
				hub.CaptureMessage("panic in request")
			})

			log.Error("panic recovered",
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.Any("panic", rec),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"ok":      0,
				"code":    http.StatusInternalServerError,
				"message": "internal server error",
			})
		}()
		c.Next()
	}
}
