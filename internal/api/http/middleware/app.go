package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"goldlink/internal/api/http/handler"
	"goldlink/internal/model"
)

// RequireApp rejects tokens issued by the sibling application. A switch
// issues a fresh token for the target app; tokens never cross over.
func RequireApp(localApp model.AppID) gin.HandlerFunc {
	return func(c *gin.Context) {
		appVal, exists := c.Get(model.SessionAppKey)
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, handler.ResponseWithMessage{
				Status:  handler.StatusNotPermitted,
				Message: "no data about the session app",
			})

			return
		}

		app, ok := appVal.(string)
		if !ok || model.AppID(app) != localApp {
			c.AbortWithStatusJSON(http.StatusForbidden, handler.ResponseWithMessage{
				Status:  handler.StatusForbidden,
				Message: "token was issued for another application",
			})

			return
		}

		c.Next()
	}
}
