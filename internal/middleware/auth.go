package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/huemap/core/internal/pkg/response"
	"go.uber.org/zap"
)

const (
	ContextKeyUserID = "user_id"
	ContextKeyToken  = "token"
	authCookieName   = "huemap_token"
)

// SessionVerifier is the part of the session authority the auth middleware needs.
type SessionVerifier interface {
	VerifyToken(ctx context.Context, token string) (bool, error)
	GetUserIDFromToken(token string) (string, error)
}

// Auth returns a middleware that rejects requests without a live session.
func Auth(v SessionVerifier, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		token := ExtractToken(c)
		if token == "" {
			response.Unauthorized(c)
			return
		}
		ok, err := v.VerifyToken(c.Request.Context(), token)
		if err != nil {
			log.Warn("verify token failed", zap.Error(err))
			response.InternalError(c, err)
			return
		}
		if !ok {
			response.Unauthorized(c)
			return
		}
		userID, err := v.GetUserIDFromToken(token)
		if err != nil {
			response.Unauthorized(c)
			return
		}
		c.Set(ContextKeyUserID, userID)
		c.Set(ContextKeyToken, token)
		c.Next()
	}
}

// CurrentUserID extracts the authenticated user ID from context.
func CurrentUserID(c *gin.Context) string {
	v, _ := c.Get(ContextKeyUserID)
	id, _ := v.(string)
	return id
}

// CurrentToken extracts the authenticated credential from context.
func CurrentToken(c *gin.Context) string {
	v, _ := c.Get(ContextKeyToken)
	tok, _ := v.(string)
	return tok
}

// ExtractToken reads the credential from the Authorization header, the token
// query parameter or the auth cookie, in that order.
func ExtractToken(c *gin.Context) string {
	if token := NormalizeToken(c.GetHeader("Authorization")); token != "" {
		return token
	}
	if token := NormalizeToken(c.Query("token")); token != "" {
		return token
	}
	if raw, err := c.Cookie(authCookieName); err == nil {
		return NormalizeToken(raw)
	}
	return ""
}

// NormalizeToken trims spaces and strips optional Bearer prefix.
func NormalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}
