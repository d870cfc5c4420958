package route

import (
	"github.com/gin-gonic/gin"
)

type NotificationHandler interface {
	List(c *gin.Context)
	MarkRead(c *gin.Context)
}

func RegisterNotifications(g *gin.RouterGroup, h NotificationHandler, jwtAuthMiddleware, localAppMiddleware gin.HandlerFunc) {
	g.Use(jwtAuthMiddleware, localAppMiddleware)

	g.GET("", h.List)
	g.POST("/read", h.MarkRead)
}
