package middleware

import "github.com/gin-gonic/gin"

// contextKey defines a type for context keys to avoid collisions.
type contextKey string

const (
	// UserIDKey holds the authenticated recipient id, both in the gin context
	// (as its string form) and in the request context.
	UserIDKey contextKey = "userID"
)

// UserID returns the authenticated recipient id, or "" when the request did
// not pass AuthMiddleware.
func UserID(c *gin.Context) string {
	return c.GetString(string(UserIDKey))
}
