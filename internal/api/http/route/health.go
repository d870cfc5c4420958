package route

import (
	"github.com/gin-gonic/gin"
)

type HealthHandler interface {
	Health(c *gin.Context)
	Ping(c *gin.Context)
	ProtectedPing(c *gin.Context)
}

// RegisterHealth exposes liveness endpoints; the protected ping doubles as a
// token smoke test.
func RegisterHealth(g *gin.RouterGroup, h HealthHandler, jwtAuthMiddleware gin.HandlerFunc) {
	g.GET("", h.Health)
	g.GET("/ping", h.Ping)
	g.GET("/ping/protected", jwtAuthMiddleware, h.ProtectedPing)
}
