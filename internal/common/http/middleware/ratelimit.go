package middleware

import (
	"context"
	"fmt"
	"time"

	"judgehub/internal/common/cache"
	appErr "judgehub/pkg/errors"
	"judgehub/pkg/utils/contextkey"
	"judgehub/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// RateLimitPolicy caps requests per window. Zero maxima disable a scope.
type RateLimitPolicy struct {
	Window  time.Duration `json:",default=1m"`
	UserMax int           `json:",optional"`
	IPMax   int           `json:",optional"`
}

// RateLimiter counts requests in fixed Redis windows.
type RateLimiter struct {
	cache   cache.BasicOps
	timeout time.Duration
}

func NewRateLimiter(c cache.BasicOps, timeout time.Duration) *RateLimiter {
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	return &RateLimiter{cache: c, timeout: timeout}
}

// Allow counts one request against key and fails once max is exceeded.
func (l *RateLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if max <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	count, err := l.cache.Incr(ctx, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	if count == 1 {
		_ = l.cache.Expire(ctx, key, window)
	}
	if int(count) > max {
		return appErr.New(appErr.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}

// RateLimit enforces policy on one route. The user scope needs an
// authenticated request.
func RateLimit(l *RateLimiter, route string, policy RateLimitPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		if policy.IPMax > 0 {
			key := fmt.Sprintf("judge:rate:ip:%s:%s", c.ClientIP(), route)
			if err := l.Allow(ctx, key, policy.IPMax, policy.Window); err != nil {
				response.Error(c, err)
				return
			}
		}
		if policy.UserMax > 0 {
			if uid, ok := ctx.Value(contextkey.UserID).(int64); ok {
				key := fmt.Sprintf("judge:rate:user:%d:%s", uid, route)
				if err := l.Allow(ctx, key, policy.UserMax, policy.Window); err != nil {
					response.Error(c, err)
					return
				}
			}
		}
		c.Next()
	}
}
