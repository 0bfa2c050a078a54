package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/taxlink/taxchat/internal/pkg/apperrors"
	"github.com/taxlink/taxchat/internal/pkg/metrics"
)

// WindowCounter records a hit for key and returns the number of earlier hits
// still inside the sliding window
type WindowCounter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisWindowCounter is a sorted set sliding window kept in Redis
type RedisWindowCounter struct {
	client redis.UniversalClient
}

// NewRedisWindowCounter creates a counter backed by client
func NewRedisWindowCounter(client redis.UniversalClient) *RedisWindowCounter {
	return &RedisWindowCounter{client: client}
}

// Hit implements WindowCounter
func (r *RedisWindowCounter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	now := time.Now()
	windowStart := now.Add(-window)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart.UnixMilli(), 10))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.Expire(ctx, key, window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rate limit pipeline: %w", err)
	}
	return countCmd.Val(), nil
}

// RateLimiter throttles authenticated callers per endpoint
type RateLimiter struct {
	counter WindowCounter
	logger  zerolog.Logger
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(counter WindowCounter, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{counter: counter, logger: logger}
}

// Limit allows at most requests calls of the named endpoint per user within
// window. It must run after JWTAuth. Counter failures let the request through.
func (rl *RateLimiter) Limit(endpoint string, requests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFromContext(c)
		if !ok || rl == nil || requests <= 0 {
			c.Next()
			return
		}

		key := fmt.Sprintf("ratelimit:%s:user:%d", endpoint, id.ID)
		count, err := rl.counter.Hit(c.Request.Context(), key, window)
		if err != nil {
			rl.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Rate limit check failed, allowing request")
			c.Next()
			return
		}

		remaining := requests - int(count) - 1
		if remaining < 0 {
			remaining = 0
		}
		resetAt := time.Now().Add(window)
		c.Header("X-RateLimit-Limit", strconv.Itoa(requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if count >= int64(requests) {
			metrics.RateLimitHits.WithLabelValues(endpoint).Inc()
			rl.logger.Warn().
				Str("endpoint", endpoint).
				Int64("userID", id.ID).
				Msg("Rate limit exceeded")
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			HandleAPIError(c, apperrors.NewRateLimitedError("Too many requests, slow down"))
			return
		}

		c.Next()
	}
}
