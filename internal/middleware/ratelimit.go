package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hookforms/backend/internal/auth"
	"hookforms/backend/internal/config"
	"hookforms/backend/internal/monitoring"
	"hookforms/backend/internal/storage"
)

// RateGovernor 基于计数存储的滑动窗口限流，按客户端 IP 计数。
// 计数存储不可用时拒绝请求（503），不放行。
func RateGovernor(counter storage.CounterStore, cfg config.RateLimitConfig, metrics *monitoring.Metrics, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ratelimit")

	window := cfg.Window
	if window <= 0 {
		window = 60 * time.Second
	}
	limit := int64(cfg.Limit)
	if limit <= 0 {
		limit = 100
	}
	limitHeader := strconv.FormatInt(limit, 10)

	return func(c *gin.Context) {
		if isHealthPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		ip := auth.ClientIP(c.Request)
		now := time.Now()
		count, err := counter.SlidingWindow(c.Request.Context(), "ratelimit:"+ip, now, window)
		if err != nil {
			log.Error("counter store unavailable for rate limiting, denying request", zap.Error(err))
			if metrics != nil {
				metrics.RecordRateLimitBlock("unavailable")
			}
			abortWithError(c, http.StatusServiceUnavailable, "Service temporarily unavailable. Please try again.")
			return
		}

		reset := strconv.FormatInt(now.Add(window).Unix(), 10)
		c.Header("X-RateLimit-Limit", limitHeader)
		c.Header("X-RateLimit-Reset", reset)

		if count >= limit {
			c.Header("X-RateLimit-Remaining", "0")
			if metrics != nil {
				metrics.RecordRateLimitBlock("limit")
			}
			log.Warn("rate limit exceeded", zap.String("ip", ip), zap.Int64("count", count))
			abortWithError(c, http.StatusTooManyRequests, "Too many requests. Please retry later.")
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.FormatInt(max(0, limit-count-1), 10))
		c.Next()
	}
}
