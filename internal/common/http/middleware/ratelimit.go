package middleware

import (
	"context"
	"fmt"
	"time"

	"judgehub/pkg/utils/contextkey"
	"judgehub/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// Limiter counts a hit on key and fails once max is exceeded within window.
type Limiter interface {
	Allow(ctx context.Context, key string, max int, window time.Duration) error
}

// RateLimitPolicy caps requests per client IP, per authenticated user and per route.
// A zero max disables that dimension.
type RateLimitPolicy struct {
	Window   time.Duration `yaml:"window"`
	IPMax    int           `yaml:"ipMax"`
	UserMax  int           `yaml:"userMax"`
	RouteMax int           `yaml:"routeMax"`
}

// RateLimitMiddleware enforces policy for routeKey. User limits apply only
// after an auth middleware stored the user id in the request context.
func RateLimitMiddleware(limiter Limiter, routeKey string, policy RateLimitPolicy) gin.HandlerFunc {
	if policy.Window <= 0 {
		policy.Window = time.Minute
	}
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		if policy.IPMax > 0 {
			key := fmt.Sprintf("ip:%s:%s", c.ClientIP(), routeKey)
			if err := limiter.Allow(ctx, key, policy.IPMax, policy.Window); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}
		if policy.UserMax > 0 {
			if userID, ok := ctx.Value(contextkey.UserID).(int64); ok {
				key := fmt.Sprintf("user:%d:%s", userID, routeKey)
				if err := limiter.Allow(ctx, key, policy.UserMax, policy.Window); err != nil {
					response.AbortWithError(c, err)
					return
				}
			}
		}
		if policy.RouteMax > 0 {
			if err := limiter.Allow(ctx, "route:"+routeKey, policy.RouteMax, policy.Window); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}
		c.Next()
	}
}
