package middleware

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"goldlink/internal/api/http/handler"
	"goldlink/internal/apperrors"
	"goldlink/internal/model"
	"goldlink/pkg/jwt"
)

// SessionValidator resolves a session id to its owning user. Revoked and
// expired sessions surface as apperrors.ErrSessionExpired.
type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionID uuid.UUID) (uuid.UUID, error)
}

// JWTAuth checks the token signature, then confirms the session behind it is
// still alive. A logout or the expiry monitor revokes the session token, so
// an otherwise valid JWT stops working the moment its session is cleared.
func JWTAuth(publicKey *ecdsa.PublicKey, sessions SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var tokenStr string

		if cookie, err := c.Cookie("access"); err == nil {
			tokenStr = cookie
		}

		if tokenStr == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				tokenStr = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ResponseWithMessage{
				Status:  handler.StatusNotPermitted,
				Message: "Missing access token",
			})

			return
		}

		claims, err := jwt.ValidateToken(tokenStr, publicKey)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ResponseWithMessage{
				Status:  handler.StatusNotPermitted,
				Message: "invalid or expired token",
			})

			return
		}

		sessionID, err := claimUUID(claims, model.SessionIDKey)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ResponseWithMessage{
				Status:  handler.StatusNotPermitted,
				Message: "invalid or expired token",
			})

			return
		}

		userID, err := sessions.ValidateSession(c.Request.Context(), sessionID)
		if err != nil {
			if errors.Is(err, apperrors.ErrSessionExpired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ResponseWithMessage{
					Status:  handler.StatusNotPermitted,
					Message: "session expired or revoked",
				})

				return
			}

			c.AbortWithStatusJSON(http.StatusInternalServerError, handler.ResponseWithMessage{
				Status:  handler.StatusErr,
				Message: "failed to validate session",
			})

			return
		}

		if uid, ok := claims[model.UserUIDKey].(string); !ok || uid != userID.String() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, handler.ResponseWithMessage{
				Status:  handler.StatusNotPermitted,
				Message: "session expired or revoked",
			})

			return
		}

		c.Set(model.UserUIDKey, claims[model.UserUIDKey])
		c.Set(model.SessionIDKey, claims[model.SessionIDKey])
		c.Set(model.SessionAppKey, claims[model.SessionAppKey])

		c.Next()
	}
}

func claimUUID(claims map[string]any, key string) (uuid.UUID, error) {
	raw, ok := claims[key].(string)
	if !ok {
		return uuid.Nil, apperrors.ErrContextValueInvalidType
	}

	return uuid.Parse(raw)
}
