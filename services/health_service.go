package services

import (
	"context"
	"time"

	"github.com/eventcrew/eventcrew-backend/db"
	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/eventcrew/eventcrew-backend/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisPinger is the subset of a Redis client used for health checks.
type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

type HealthService struct {
	database       db.Pinger
	redisClient    RedisPinger
	version        string
	startTime      time.Time
	activeSessions func() int
	activeSubs     func() int
	log            *zap.SugaredLogger
}

// NewHealthService creates a health checker. database may be nil when the
// hosted persistence backend is used.
func NewHealthService(database db.Pinger, redisClient RedisPinger, version string) *HealthService {
	return &HealthService{
		database:    database,
		redisClient: redisClient,
		version:     version,
		startTime:   time.Now(),
		log:         logger.GetLogger().Named("health"),
	}
}

// SetRealtimeCounters adds session and subscription counts to health output.
// Either getter may be nil.
func (h *HealthService) SetRealtimeCounters(sessions, subscriptions func() int) {
	h.activeSessions = sessions
	h.activeSubs = subscriptions
}

func (h *HealthService) CheckHealth(ctx context.Context) types.HealthCheck {
	components := make(map[string]types.HealthComponent)
	overall := types.HealthStatusUp

	record := func(name string, c types.HealthComponent) {
		components[name] = c
		switch {
		case c.Status == types.HealthStatusDown:
			overall = types.HealthStatusDown
		case c.Status == types.HealthStatusDegraded && overall != types.HealthStatusDown:
			overall = types.HealthStatusDegraded
		}
	}

	if h.database != nil {
		record("database", h.checkDatabase(ctx))
	}
	record("redis", h.checkRedis(ctx))

	return types.HealthCheck{
		Status:     overall,
		Components: components,
		Realtime:   h.realtime(),
		Version:    h.version,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
	}
}

func (h *HealthService) realtime() *types.RealtimeStats {
	if h.activeSessions == nil && h.activeSubs == nil {
		return nil
	}
	stats := &types.RealtimeStats{}
	if h.activeSessions != nil {
		stats.ActiveSessions = h.activeSessions()
	}
	if h.activeSubs != nil {
		stats.ActiveSubscriptions = h.activeSubs()
	}
	return stats
}

func (h *HealthService) checkDatabase(ctx context.Context) types.HealthComponent {
	if err := db.CheckHealth(ctx, h.database); err != nil {
		h.log.Errorw("Database health check failed", "error", err)
		return types.HealthComponent{
			Status:  types.HealthStatusDown,
			Details: "Database connection failed",
		}
	}
	return types.HealthComponent{Status: types.HealthStatusUp}
}

func (h *HealthService) checkRedis(ctx context.Context) types.HealthComponent {
	if h.redisClient == nil {
		return types.HealthComponent{Status: types.HealthStatusDegraded, Details: "Redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.redisClient.Ping(ctx).Err(); err != nil {
		h.log.Errorw("Redis health check failed", "error", err)
		return types.HealthComponent{
			Status:  types.HealthStatusDown,
			Details: "Redis connection failed",
		}
	}
	return types.HealthComponent{Status: types.HealthStatusUp}
}
