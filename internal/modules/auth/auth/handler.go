package auth

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/huemap/core/internal/middleware"
	"github.com/huemap/core/internal/pkg/response"
)

// Reasons returned with 401 refresh failures.
const (
	reasonInvalidToken        = "invalid_token"
	reasonGracePeriodExceeded = "grace_period_exceeded"
)

const sessionRetryMessage = "could not open a session, please retry"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	a := rg.Group("/auth")

	a.POST("/register", h.register)
	a.POST("/login", h.login)
	a.POST("/logout", h.logout)
	a.GET("/verify", h.verify)
	a.POST("/refresh", h.refresh)
	a.GET("/me", authMW, h.me)
	a.POST("/logout-all", authMW, h.logoutAll)
}

func (h *Handler) register(c *gin.Context) {
	var dto RegisterDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	res, err := h.svc.Register(c.Request.Context(), dto.Email, dto.Password, dto.Name)
	if err != nil {
		switch {
		case errors.Is(err, ErrConflict):
			response.Conflict(c, "email already registered")
		case errors.Is(err, ErrCredentialExhausted):
			response.ServiceUnavailable(c, sessionRetryMessage)
		default:
			response.InternalError(c, err)
		}
		return
	}
	response.Created(c, res)
}

func (h *Handler) login(c *gin.Context) {
	var dto LoginDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	res, err := h.svc.Login(c.Request.Context(), dto.Email, dto.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			response.UnauthorizedMsg(c, ErrInvalidCredentials.Error())
		case errors.Is(err, ErrCredentialExhausted):
			response.ServiceUnavailable(c, sessionRetryMessage)
		default:
			response.InternalError(c, err)
		}
		return
	}
	response.OK(c, res)
}

func (h *Handler) logout(c *gin.Context) {
	if err := h.svc.Logout(c.Request.Context(), middleware.ExtractToken(c)); err != nil {
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) verify(c *gin.Context) {
	ok, err := h.svc.VerifyToken(c.Request.Context(), middleware.ExtractToken(c))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, verifyResponse{Valid: ok})
}

func (h *Handler) refresh(c *gin.Context) {
	token := middleware.ExtractToken(c)
	if token == "" {
		var dto RefreshDTO
		_ = c.ShouldBindJSON(&dto)
		token = middleware.NormalizeToken(dto.Token)
	}
	if token == "" {
		response.BadRequest(c, "token is required")
		return
	}

	res, err := h.svc.RefreshToken(c.Request.Context(), token)
	switch {
	case err == nil:
		response.OK(c, res)
	case errors.Is(err, ErrInvalidToken):
		response.UnauthorizedReason(c, reasonInvalidToken, "unknown token, do not retry with it")
	case errors.Is(err, ErrGracePeriodExceeded):
		response.UnauthorizedReason(c, reasonGracePeriodExceeded, "session expired, please log in again")
	case errors.Is(err, ErrUserNotFound):
		response.NotFoundMsg(c, "user not found")
	case errors.Is(err, ErrCredentialExhausted):
		response.ServiceUnavailable(c, sessionRetryMessage)
	default:
		response.InternalError(c, err)
	}
}

func (h *Handler) me(c *gin.Context) {
	p, err := h.svc.Profile(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			response.NotFoundMsg(c, "user not found")
			return
		}
		response.InternalError(c, err)
		return
	}
	response.OK(c, p)
}

func (h *Handler) logoutAll(c *gin.Context) {
	if err := h.svc.LogoutAll(c.Request.Context(), middleware.CurrentUserID(c)); err != nil {
		response.InternalError(c, err)
		return
	}
	response.NoContent(c)
}
