package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/graderoom/graderoom/pkg/response"
)

// CodeRateLimited 请求过于频繁
const CodeRateLimited = 10004

// RateCounter 固定窗口计数，由 pkg/redis.Client 实现
type RateCounter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimit 按调用方限制某路由的请求频率
// counter 为 nil 或计数出错时放行
func RateLimit(counter RateCounter, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if counter == nil {
			c.Next()
			return
		}

		who := c.GetString(ContextUsername)
		if who == "" {
			who = c.ClientIP()
		}
		allowed, err := counter.Allow(c.Request.Context(), c.FullPath()+":"+who, limit, window)
		if err != nil {
			c.Next()
			return
		}

		if !allowed {
			response.Error(c, http.StatusTooManyRequests, CodeRateLimited, "请求过于频繁，请稍后再试")
			c.Abort()
			return
		}

		c.Next()
	}
}
