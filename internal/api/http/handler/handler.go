package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"goldlink/internal/apperrors"
	"goldlink/internal/model"
)

const (
	StatusErr          = "error"
	StatusSuccess      = "success"
	StatusNotAvailable = "not available"
	StatusNotPermitted = "not permitted"
	StatusForbidden    = "forbidden"
	StatusOK           = "ok"
)

const (
	UserAgentHeader = "User-Agent"
)

type BaseHandler struct{}

func (h *BaseHandler) GetUserID(c *gin.Context) (uuid.UUID, error) {
	return h.getUUID(c, model.UserUIDKey)
}

func (h *BaseHandler) GetSessionID(c *gin.Context) (uuid.UUID, error) {
	return h.getUUID(c, model.SessionIDKey)
}

func (h *BaseHandler) getUUID(c *gin.Context, key string) (uuid.UUID, error) {
	value, exists := c.Get(key)
	if !exists {
		return uuid.Nil, apperrors.ErrContextValueDoesNotExist
	}

	str, ok := value.(string)
	if !ok {
		return uuid.Nil, apperrors.ErrContextValueInvalidType
	}

	id, err := uuid.Parse(str)
	if err != nil {
		return uuid.Nil, apperrors.ErrContextValueInvalidType
	}

	return id, nil
}

// ResponseWithData is the common success/error envelope carrying a payload.
type ResponseWithData struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

// ResponseWithMessage carries only a human-readable message.
type ResponseWithMessage struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func NoMethod(c *gin.Context) {
	c.JSON(http.StatusMethodNotAllowed, ResponseWithMessage{
		Status:  StatusNotAvailable,
		Message: "method not allowed on this endpoint",
	})
}

func NoRoute(c *gin.Context) {
	c.JSON(http.StatusNotFound, ResponseWithMessage{
		Status:  StatusNotAvailable,
		Message: "page not found",
	})
}
