package router

import (
	"time"

	"github.com/eventcrew/eventcrew-backend/config"
	"github.com/eventcrew/eventcrew-backend/handlers"
	"github.com/eventcrew/eventcrew-backend/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Dependencies holds everything the routes need.
type Dependencies struct {
	Config              *config.Config
	JWTValidator        middleware.Validator
	HealthHandler       *handlers.HealthHandler
	SessionHandler      *handlers.SessionHandler
	NotificationHandler *handlers.NotificationHandler
	StreamHandler       *handlers.NotificationStreamHandler
	// Redis backs the rate limiters; nil disables them.
	Redis  redis.Cmdable
	Logger *zap.SugaredLogger
}

const (
	writeRequestsPerMinute = 120
	maxStreamsPerUser      = 5
	streamSlotTTL          = 24 * time.Hour
)

// SetupRouter configures the Gin engine with all routes.
func SetupRouter(deps Dependencies) *gin.Engine {
	if deps.Config.Server.Environment != config.EnvDevelopment {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.SecurityHeadersMiddleware(&deps.Config.Server))
	r.Use(middleware.CORSMiddleware(&deps.Config.Server))

	// Health and metrics are unauthenticated.
	r.GET("/health", deps.HealthHandler.DetailedHealth)
	r.GET("/health/liveness", deps.HealthHandler.LivenessCheck)
	r.GET("/health/readiness", deps.HealthHandler.ReadinessCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(deps.JWTValidator))

	var writeLimit, streamLimit gin.HandlerFunc = passThrough, passThrough
	if deps.Redis != nil {
		writeLimit = middleware.RateLimiter(deps.Redis, "v1-write", writeRequestsPerMinute, time.Minute)
		streamLimit = middleware.StreamLimiter(deps.Redis, maxStreamsPerUser, streamSlotTTL)
	}
	{
		sessionRoutes := v1.Group("/session")
		{
			sessionRoutes.POST("", writeLimit, deps.SessionHandler.OpenSession)
			sessionRoutes.DELETE("", deps.SessionHandler.CloseSession)
			sessionRoutes.PUT("/app-state", writeLimit, deps.SessionHandler.SetAppState)
		}

		notificationRoutes := v1.Group("/notifications")
		{
			notificationRoutes.GET("", deps.NotificationHandler.ListNotifications)
			notificationRoutes.GET("/unread", deps.NotificationHandler.ListUnread)
			notificationRoutes.GET("/badges", deps.NotificationHandler.GetBadges)
			notificationRoutes.GET("/stream", streamLimit, deps.StreamHandler.HandleStream)
			notificationRoutes.GET("/events/:eventId/badge", deps.NotificationHandler.GetEventBadge)
			notificationRoutes.GET("/categories/:category/badge", deps.NotificationHandler.GetCategoryBadge)
			notificationRoutes.POST("/refetch", writeLimit, deps.NotificationHandler.Refetch)
			notificationRoutes.PATCH("/read-all", writeLimit, deps.NotificationHandler.MarkAllAsRead)
			notificationRoutes.PATCH("/events/:eventId/read", writeLimit, deps.NotificationHandler.MarkEventAsRead)
			notificationRoutes.PATCH("/:id/read", writeLimit, deps.NotificationHandler.MarkAsRead)
		}
	}

	if deps.Logger != nil {
		deps.Logger.Infow("Routes registered", "count", len(r.Routes()))
	}
	return r
}

func passThrough(c *gin.Context) { c.Next() }
