package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"exchange-ledger/config"
	redisStore "exchange-ledger/internal/adapter/storage/redis"
	"exchange-ledger/pkg/apperror"
	"exchange-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Rate limit groups.
const (
	GroupTransfers     = "transfers"
	GroupRegistrations = "registrations"
	GroupReads         = "reads"
	GroupAdmin         = "admin"
)

// RateLimitRule defines a rate limit for an endpoint group.
type RateLimitRule struct {
	Limit  int64
	Window time.Duration
}

// Limiter counts requests per key. Implemented by the Redis store.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*redisStore.RateLimitResult, error)
}

// RateLimitRules builds the per-group rules from configuration.
func RateLimitRules(cfg config.RateLimitConfig) map[string]RateLimitRule {
	return map[string]RateLimitRule{
		GroupTransfers:     {Limit: int64(cfg.TransfersPerMin), Window: time.Minute},
		GroupRegistrations: {Limit: int64(cfg.RegistrationsPerMin), Window: time.Minute},
		GroupReads:         {Limit: int64(cfg.ReadsPerMin), Window: time.Minute},
		GroupAdmin:         {Limit: int64(cfg.ReadsPerMin), Window: time.Minute},
	}
}

// RateLimiter creates a rate-limiting middleware for a given endpoint group.
// A store failure lets the request through.
func RateLimiter(store Limiter, group string, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("%s:%s", identifier(c), group)

		result, err := store.Allow(c.Request.Context(), key, rule.Limit, rule.Window)
		if err != nil {
			log.Warn().Err(err).Str("group", group).Msg("rate limit check failed, allowing request (degraded mode)")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			retryAfter := result.ResetAt - time.Now().Unix()
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			response.Error(c, apperror.ErrRateLimitExceeded())
			c.Abort()
			return
		}

		c.Next()
	}
}

// identifier keys admins by subject and everyone else by client IP.
func identifier(c *gin.Context) string {
	if actor := Actor(c); actor != anonymousActor {
		return "actor:" + actor
	}
	return "ip:" + c.ClientIP()
}
