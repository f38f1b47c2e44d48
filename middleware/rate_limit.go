package middleware

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/eventcrew/eventcrew-backend/errors"
	"github.com/eventcrew/eventcrew-backend/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimiter allows limit requests per window for each caller, counted in
// Redis under prefix. Callers are keyed by user id, or by client IP before
// authentication. Redis failures let the request through.
func RateLimiter(rdb redis.Cmdable, prefix string, limit int, window time.Duration) gin.HandlerFunc {
	log := logger.GetLogger().Named("rate_limit")

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := fmt.Sprintf("ratelimit:%s:%s", prefix, callerKey(c))

		count, err := rdb.Incr(ctx, key).Result()
		if err == nil && count == 1 {
			err = rdb.Expire(ctx, key, window).Err()
		}
		if err != nil {
			log.Warnw("Rate limit check failed, allowing request", "key", key, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))

		if count > int64(limit) {
			ttl, err := rdb.TTL(ctx, key).Result()
			if err != nil || ttl <= 0 {
				ttl = window
			}
			retry := int(ttl.Seconds())
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(retry))
			_ = c.Error(apperrors.RateLimitExceeded("Too many requests. Please try again later.", retry))
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.FormatInt(int64(limit)-count, 10))
		c.Next()
	}
}

// StreamLimiter caps the concurrent streams of one user. The slot is held
// until the downstream handler returns. The counter expires after ttl so a
// crashed instance cannot leak slots forever.
func StreamLimiter(rdb redis.Cmdable, maxStreams int, ttl time.Duration) gin.HandlerFunc {
	log := logger.GetLogger().Named("stream_limit")

	return func(c *gin.Context) {
		userID := UserID(c)
		if userID == "" {
			_ = c.Error(apperrors.AuthenticationFailed("Authorization required"))
			c.Abort()
			return
		}

		ctx := c.Request.Context()
		key := "streams:" + userID

		pipe := rdb.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Warnw("Stream limit check failed, allowing stream", "userID", userID, "error", err)
			c.Next()
			return
		}
		// The request context is gone by the time the stream ends.
		defer rdb.Decr(context.WithoutCancel(ctx), key)

		if incr.Val() > int64(maxStreams) {
			_ = c.Error(apperrors.RateLimitExceeded("Too many notification streams", int(ttl.Seconds())))
			c.Abort()
			return
		}
		c.Next()
	}
}

func callerKey(c *gin.Context) string {
	if id := UserID(c); id != "" {
		return "user:" + id
	}
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		return "ip:" + strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	return "ip:" + c.ClientIP()
}
