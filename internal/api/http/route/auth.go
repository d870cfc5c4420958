package route

import (
	"github.com/gin-gonic/gin"
)

type AuthHandler interface {
	Login(c *gin.Context)
	Switch(c *gin.Context)
	Touch(c *gin.Context)
	Logout(c *gin.Context)
}

// Switch deliberately skips the local-app gate: the caller arrives with a
// token issued by the sibling application.
func RegisterAuth(g *gin.RouterGroup, h AuthHandler, jwtAuthMiddleware gin.HandlerFunc) {
	g.POST("/login", h.Login)

	protected := g.Group("", jwtAuthMiddleware)
	protected.POST("/switch", h.Switch)
	protected.POST("/touch", h.Touch)
	protected.POST("/logout", h.Logout)
}
