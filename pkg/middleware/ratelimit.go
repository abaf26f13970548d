package middleware

import (
	"net/http"
	"time"

	"framefeed.com/pkg/common"
	"framefeed.com/pkg/logger"
	"framefeed.com/pkg/metrics"
	"framefeed.com/pkg/ratelimit"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RateLimitConfig struct {
	// QPS <=0 关闭限流
	QPS   float64       `mapstructure:"qps"`
	Burst int           `mapstructure:"burst"`
	TTL   time.Duration `mapstructure:"ttl"`
}

// RateLimit 按 ip+route 限流
func RateLimit(service string, store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		key := c.ClientIP() + ":" + route

		if !store.Allow(key) {
			metrics.RateLimitBlockTotal.WithLabelValues(service, route, "ip_route").Inc()
			// 限流属于“可控拒绝”，不要打堆栈（压测会炸日志）
			logger.Warn(c, "http rate limited",
				zap.String("request_id", common.RequestIDFromGin(c)),
				zap.String("ip", c.ClientIP()),
				zap.String("route", route),
			)
			common.Fail(c, http.StatusTooManyRequests, common.BizTooManyRequests, "请求过于频繁")
			c.Abort()
			return
		}
		c.Next()
	}
}
