package route

import (
	"crypto/ecdsa"
	"io"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"goldlink/internal/api/http/handler"
	"goldlink/internal/api/http/middleware"
	"goldlink/internal/config"
)

func SetupRouter(
	log *zap.Logger,
	cfg *config.Config,
	publicKey *ecdsa.PublicKey,
	sessions middleware.SessionValidator,
	healthHdl HealthHandler,
	authHdl AuthHandler,
	messageHdl MessageHandler,
	notificationHdl NotificationHandler,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = io.Discard

	router := gin.Default()

	// middleware
	router.Use(middleware.Logger(log))
	router.Use(middleware.RequestTimeout(cfg.HTTPServer.Timeout.Request))
	router.Use(middleware.CORS(cfg.HTTPServer.CORS))

	jwtAuthMiddleware := middleware.JWTAuth(publicKey, sessions)
	localAppMiddleware := middleware.RequireApp(cfg.App.AppID)

	router.HandleMethodNotAllowed = true
	router.NoMethod(handler.NoMethod)
	router.NoRoute(handler.NoRoute)

	basePath := router.Group(cfg.HTTPServer.BasePath)

	healthPath := basePath.Group("/health")
	RegisterHealth(healthPath, healthHdl, jwtAuthMiddleware)

	authPath := basePath.Group("/auth")
	RegisterAuth(authPath, authHdl, jwtAuthMiddleware)

	messagePath := basePath.Group("/messages")
	RegisterMessages(messagePath, messageHdl, jwtAuthMiddleware, localAppMiddleware)

	notificationPath := basePath.Group("/notifications")
	RegisterNotifications(notificationPath, notificationHdl, jwtAuthMiddleware, localAppMiddleware)

	return router
}
