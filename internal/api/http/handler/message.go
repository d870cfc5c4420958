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

type MessageService interface {
	Send(ctx context.Context, sourceApp, destApp model.AppID, messageType model.MessageType, payload model.Payload, priority model.Priority) (uuid.UUID, error)
	PendingCount(ctx context.Context) (int, error)
}

type MessageHandler struct {
	BaseHandler

	log      *zap.Logger
	localApp model.AppID
	svc      MessageService
}

func NewMessageHandler(log *zap.Logger, localApp model.AppID, svc MessageService) *MessageHandler {
	return &MessageHandler{
		BaseHandler: BaseHandler{},
		log:         log,
		localApp:    localApp,
		svc:         svc,
	}
}

// Send accepts a typed message for the destination application's mailbox.
// The payload body must match the declared message type.
func (h *MessageHandler) Send(c *gin.Context) {
	ctx := c.Request.Context()

	var req model.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ResponseWithMessage{
			Status:  StatusErr,
			Message: err.Error(),
		})

		return
	}

	payload, err := model.DecodePayload(model.Message{
		Type:    req.Type,
		Payload: req.Payload,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, ResponseWithMessage{
			Status:  StatusErr,
			Message: err.Error(),
		})

		return
	}

	id, err := h.svc.Send(ctx, h.localApp, req.DestApp, req.Type, payload, req.Priority)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrUnknownApp),
			errors.Is(err, apperrors.ErrUnknownMessageType),
			errors.Is(err, apperrors.ErrInvalidPayload):
			c.JSON(http.StatusBadRequest, ResponseWithMessage{
				Status:  StatusErr,
				Message: err.Error(),
			})
		case errors.Is(err, apperrors.ErrMailboxFull):
			c.JSON(http.StatusTooManyRequests, ResponseWithMessage{
				Status:  StatusNotAvailable,
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

	c.JSON(http.StatusAccepted, ResponseWithData{
		Status: StatusSuccess,
		Data:   gin.H{"id": id},
	})
}

// Pending reports how many messages await delivery in the local mailbox.
func (h *MessageHandler) Pending(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.svc.PendingCount(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ResponseWithMessage{
			Status:  StatusErr,
			Message: err.Error(),
		})

		return
	}

	c.JSON(http.StatusOK, ResponseWithData{
		Status: StatusSuccess,
		Data:   gin.H{"pending": count},
	})
}
