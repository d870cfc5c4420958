package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"goldlink/internal/model"
)

type NotificationService interface {
	List(ctx context.Context, userID uuid.UUID) ([]model.Notification, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error
}

type NotificationHandler struct {
	BaseHandler

	log *zap.Logger
	svc NotificationService
}

func NewNotificationHandler(log *zap.Logger, svc NotificationService) *NotificationHandler {
	return &NotificationHandler{
		BaseHandler: BaseHandler{},
		log:         log,
		svc:         svc,
	}
}

// List returns the caller's feed, newest first, at most the feed cap.
func (h *NotificationHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	userID, err := h.GetUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ResponseWithMessage{
			Status:  StatusNotPermitted,
			Message: "no data about the user",
		})

		return
	}

	notifications, err := h.svc.List(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ResponseWithMessage{
			Status:  StatusErr,
			Message: err.Error(),
		})

		return
	}

	c.JSON(http.StatusOK, ResponseWithData{
		Status: StatusSuccess,
		Data:   notifications,
	})
}

// MarkRead flags one feed entry as read.
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	ctx := c.Request.Context()

	userID, err := h.GetUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, ResponseWithMessage{
			Status:  StatusNotPermitted,
			Message: "no data about the user",
		})

		return
	}

	var req model.MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ResponseWithMessage{
			Status:  StatusErr,
			Message: err.Error(),
		})

		return
	}

	if err := h.svc.MarkRead(ctx, userID, req.ID); err != nil {
		c.JSON(http.StatusInternalServerError, ResponseWithMessage{
			Status:  StatusErr,
			Message: err.Error(),
		})

		return
	}

	c.JSON(http.StatusOK, ResponseWithMessage{
		Status:  StatusSuccess,
		Message: "notification marked as read",
	})
}
