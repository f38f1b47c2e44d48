package middleware

import (
	"context"
	"errors"
	"strings"

	apperrors "github.com/eventcrew/eventcrew-backend/errors"
	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware requires a valid bearer token and stores its subject as the
// recipient id. WebSocket upgrades may pass the token as ?token= instead,
// since browsers cannot set headers on the upgrade request.
func AuthMiddleware(validator Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.GetLogger()

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" && isWebSocketUpgrade(c) {
			token = c.Query("token")
		}
		if token == "" {
			_ = c.Error(apperrors.AuthenticationFailed("Authorization required"))
			c.Abort()
			return
		}

		userID, err := validator.Validate(token)
		if err != nil {
			log.Warnw("Invalid JWT token",
				"error", err,
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP())

			message := "Invalid authentication token"
			if errors.Is(err, ErrTokenExpired) {
				message = "Your session has expired"
			}
			_ = c.Error(apperrors.AuthenticationFailed(message))
			c.Abort()
			return
		}

		c.Set(string(UserIDKey), userID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), UserIDKey, userID))
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func isWebSocketUpgrade(c *gin.Context) bool {
	return strings.Contains(strings.ToLower(c.GetHeader("Connection")), "upgrade") &&
		strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}
