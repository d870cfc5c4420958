package route

import (
	"github.com/gin-gonic/gin"
)

type MessageHandler interface {
	Send(c *gin.Context)
	Pending(c *gin.Context)
}

func RegisterMessages(g *gin.RouterGroup, h MessageHandler, jwtAuthMiddleware, localAppMiddleware gin.HandlerFunc) {
	g.Use(jwtAuthMiddleware, localAppMiddleware)

	g.POST("", h.Send)
	g.GET("/pending", h.Pending)
}
