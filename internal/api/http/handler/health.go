package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"goldlink/internal/apperrors"
)

type HealthService interface {
	IsOK(ctx context.Context) (bool, error)
}

type HealthHandler struct {
	BaseHandler

	log *zap.Logger
	svc HealthService
}

func NewHealthHandler(log *zap.Logger, svc HealthService) *HealthHandler {
	return &HealthHandler{
		BaseHandler: BaseHandler{},
		log:         log,
		svc:         svc,
	}
}

func (h *HealthHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, ResponseWithMessage{
		Status:  StatusSuccess,
		Message: "pong",
	})
}

// ProtectedPing echoes the caller's user id, proving the token round-trip.
func (h *HealthHandler) ProtectedPing(c *gin.Context) {
	userID, err := h.GetUserID(c)
	if err != nil {
		if errors.Is(err, apperrors.ErrContextValueDoesNotExist) {
			c.JSON(http.StatusUnauthorized, ResponseWithMessage{
				Status:  StatusNotPermitted,
				Message: "no data about the user",
			})

			return
		}

		c.JSON(http.StatusForbidden, ResponseWithMessage{
			Status:  StatusNotPermitted,
			Message: "invalid user data format",
		})

		return
	}

	c.JSON(http.StatusOK, ResponseWithMessage{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("pong + %s", userID.String()),
	})
}

func (h *HealthHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	if _, err := h.svc.IsOK(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, ResponseWithMessage{
			Status:  StatusErr,
			Message: err.Error(),
		})

		return
	}

	c.JSON(http.StatusOK, ResponseWithMessage{
		Status:  StatusOK,
		Message: "healthy",
	})
}
