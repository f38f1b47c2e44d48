package middleware

import (
	"github.com/eventcrew/eventcrew-backend/config"
	"github.com/gin-gonic/gin"
)

// SecurityHeadersMiddleware sets the response hardening headers. The API
// serves JSON only, so every response also forbids caching of inbox data.
func SecurityHeadersMiddleware(cfg *config.ServerConfig) gin.HandlerFunc {
	production := cfg.Environment == config.EnvProduction

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Cache-Control", "no-store")
		if production {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
