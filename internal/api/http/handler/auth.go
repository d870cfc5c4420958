package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"goldlink/internal/apperrors"
	"goldlink/internal/model"
)

type AuthService interface {
	Authenticate(ctx context.Context, creds model.Credentials, device model.DeviceInfo) (*model.UnifiedSession, *model.AppSession, string, error)
	SwitchToApp(ctx context.Context, userID uuid.UUID, targetApp model.AppID) (*model.AppSession, string, error)
	Touch(ctx context.Context, sessionID uuid.UUID) error
	Logout(ctx context.Context, userID uuid.UUID, allApps bool) error
}

type AuthHandler struct {
	BaseHandler

	log *zap.Logger
	svc AuthService
}

func NewAuthHandler(log *zap.Logger, svc AuthService) *AuthHandler {
	return &AuthHandler{
		BaseHandler: BaseHandler{},
		log:         log,
		svc:         svc,
	}
}

// Login authenticates the user and opens a session in this application.
func (h *AuthHandler) Login(c *gin.Context) {
	ctx := c.Request.Context()

	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ResponseWithMessage{
			Status:  StatusErr,
			Message: err.Error(),
		})

		return
	}

	device := model.DeviceInfo{
		IP:        c.ClientIP(),
		UserAgent: c.GetHeader(UserAgentHeader),
	}

	unified, session, token, err := h.svc.Authenticate(ctx, model.Credentials{
		Username: req.Username,
		Password: req.Password,
	}, device)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, ResponseWithMessage{
				Status:  StatusErr,
				Message: err.Error(),
			})
		case errors.Is(err, apperrors.ErrUserBlocked):
			c.JSON(http.StatusForbidden, ResponseWithMessage{
				Status:  StatusForbidden,
				Message: err.Error(),
			})
		case errors.Is(err, apperrors.ErrNoAppPermission):
			c.JSON(http.StatusForbidden, ResponseWithMessage{
				Status:  StatusForbidden,
				Message: err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, ResponseWithMessage{
				Status:  StatusErr,
				Message: err.Error(),
			})
		}

		return
	}

	c.JSON(http.StatusOK, ResponseWithData{
		Status: StatusSuccess,
		Data: model.SessionResponse{
			Unified:     unified,
			Session:     session,
			AccessToken: token,
		},
	})
}

// Switch opens a session in the sibling application without re-entering
// credentials. Fails when the unified session grants no permission there.
func (h *AuthHandler) Switch(c *gin.Context) {
	ctx := c.Request.Context()

	userID, err := h.GetUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ResponseWithMessage{
			Status:  StatusNotPermitted,
			Message: "no data about the user",
		})

		return
	}

	var req model.SwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ResponseWithMessage{
			Status:  StatusErr,
			Message: err.Error(),
		})

		return
	}

	session, token, err := h.svc.SwitchToApp(ctx, userID, req.TargetApp)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrUnknownApp):
			c.JSON(http.StatusBadRequest, ResponseWithMessage{
				Status:  StatusErr,
				Message: err.Error(),
			})
		case errors.Is(err, apperrors.ErrNoAppPermission):
			c.JSON(http.StatusForbidden, ResponseWithMessage{
				Status:  StatusForbidden,
				Message: err.Error(),
			})
		case errors.Is(err, apperrors.ErrUnifiedSessionAbsent):
			c.JSON(http.StatusUnauthorized, ResponseWithMessage{
				Status:  StatusNotPermitted,
				Message: err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, ResponseWithMessage{
				Status:  StatusErr,
				Message: err.Error(),
			})
		}

		return
	}

	c.JSON(http.StatusOK, ResponseWithData{
		Status: StatusSuccess,
		Data: model.SessionResponse{
			Session:     session,
			AccessToken: token,
		},
	})
}

// Touch records activity on the caller's session, resetting its expiry.
func (h *AuthHandler) Touch(c *gin.Context) {
	ctx := c.Request.Context()

	sessionID, err := h.GetSessionID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ResponseWithMessage{
			Status:  StatusNotPermitted,
			Message: "no data about the session",
		})

		return
	}

	if err := h.svc.Touch(ctx, sessionID); err != nil {
		if errors.Is(err, apperrors.ErrSessionDoesNotExist) {
			c.JSON(http.StatusUnauthorized, ResponseWithMessage{
				Status:  StatusNotPermitted,
				Message: err.Error(),
			})

			return
		}

		c.JSON(http.StatusInternalServerError, ResponseWithMessage{
			Status:  StatusErr,
			Message: err.Error(),
		})

		return
	}

	c.JSON(http.StatusOK, ResponseWithMessage{
		Status:  StatusSuccess,
		Message: "session touched",
	})
}

// Logout clears the local session. With allApps the sibling application is
// asked to clear its own session too, best effort.
func (h *AuthHandler) Logout(c *gin.Context) {
	ctx := c.Request.Context()

	userID, err := h.GetUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ResponseWithMessage{
			Status:  StatusNotPermitted,
			Message: "no data about the user",
		})

		return
	}

	// Empty body means local logout only.
	var req model.LogoutRequest
	_ = c.ShouldBindJSON(&req)

	if err := h.svc.Logout(ctx, userID, req.AllApps); err != nil {
		c.JSON(http.StatusInternalServerError, ResponseWithMessage{
			Status:  StatusErr,
			Message: err.Error(),
		})

		return
	}

	c.JSON(http.StatusOK, ResponseWithMessage{
		Status:  StatusSuccess,
		Message: "logged out",
	})
}
