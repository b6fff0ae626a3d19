package response

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huemap/core/internal/pkg/observability"
)

func errorBody(status int, message string) gin.H {
	return gin.H{"ok": 0, "code": status, "message": message}
}

// OK sends a 200 response.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Created sends a 201 response.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends a 400 error response.
func BadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody(http.StatusBadRequest, message))
}

// Unauthorized sends a 401 error response.
func Unauthorized(c *gin.Context) {
	UnauthorizedMsg(c, "authentication required")
}

// UnauthorizedMsg sends a 401 error response with a custom message.
func UnauthorizedMsg(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody(http.StatusUnauthorized, message))
}

// UnauthorizedReason sends a 401 with a machine-readable reason clients can
// branch on (for example "log in again" versus "do not retry").
func UnauthorizedReason(c *gin.Context, reason, message string) {
	body := errorBody(http.StatusUnauthorized, message)
	body["reason"] = reason
	c.AbortWithStatusJSON(http.StatusUnauthorized, body)
}

// NotFound sends a 404 error response.
func NotFound(c *gin.Context) {
	NotFoundMsg(c, "not found")
}

// NotFoundMsg sends a 404 error with a custom message.
func NotFoundMsg(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusNotFound, errorBody(http.StatusNotFound, message))
}

// MethodNotAllowed sends a 405 error response.
func MethodNotAllowed(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusMethodNotAllowed, errorBody(http.StatusMethodNotAllowed, "method not allowed"))
}

// Conflict sends a 409 error response.
func Conflict(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusConflict, errorBody(http.StatusConflict, message))
}

// TooManyRequests sends a 429 with a Retry-After header.
func TooManyRequests(c *gin.Context, retryAfter time.Duration) {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.Itoa(secs))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody(http.StatusTooManyRequests, "too many requests, slow down"))
}

// InternalError sends a 500 error response and reports err.
func InternalError(c *gin.Context, err error) {
	observability.CaptureError(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody(http.StatusInternalServerError, err.Error()))
}

// ServiceUnavailable sends a 503 error response.
func ServiceUnavailable(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorBody(http.StatusServiceUnavailable, message))
}

// BadGateway sends a 502 error response.
func BadGateway(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadGateway, errorBody(http.StatusBadGateway, message))
}
