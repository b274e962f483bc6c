// Package ratelimit guards the WebSocket accept path. Limits are keyed by
// client IP and stored in Redis when the shared tier is enabled, so a fleet
// of processes enforces one budget per IP; without Redis each process falls
// back to its own in-memory budget.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/altruist-engine/altruist/internal/v1/logging"
	"github.com/altruist-engine/altruist/internal/v1/metrics"
)

// RateLimiter enforces the per-IP connection budget.
type RateLimiter struct {
	accept *limiter.Limiter
}

// New builds a limiter from a formatted rate like "100-M" (100 per minute).
// redisClient may be nil, which selects the process-local memory store.
func New(acceptRate string, redisClient *redis.Client) (*RateLimiter, error) {
	rate, err := limiter.NewRateFromFormatted(acceptRate)
	if err != nil {
		return nil, fmt.Errorf("invalid accept rate %q: %w", acceptRate, err)
	}

	var store limiter.Store
	if redisClient != nil {
		store, err = sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis limiter store: %w", err)
		}
	} else {
		store = memory.NewStore()
	}

	return &RateLimiter{accept: limiter.New(store, rate)}, nil
}

// CheckAccept reports whether a new connection from this request's IP is
// within budget. On rejection the 429 response is already written. Store
// failures fail open so a Redis outage cannot lock every client out.
func (rl *RateLimiter) CheckAccept(c *gin.Context) bool {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	res, err := rl.accept.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "Rate limiter store failed", zap.String("ip", ip), zap.Error(err))
		return true
	}

	if res.Reached {
		metrics.RateLimited.WithLabelValues("ip").Inc()
		logging.Warn(ctx, "Connection rejected by rate limit", zap.String("ip", ip))
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(res.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections from this IP"})
		return false
	}
	return true
}
