package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"hookforms/backend/internal/monitoring"
)

// HTTPMetrics HTTP 指标中间件。未匹配路由的请求按 "unmatched" 归类，避免标签基数失控。
func HTTPMetrics(metrics *monitoring.Metrics) gin.HandlerFunc {
	startedAt := time.Now()

	return func(c *gin.Context) {
		start := time.Now()
		requestSize := c.Request.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := c.Writer.Status()
		responseSize := int64(c.Writer.Size())
		if responseSize < 0 {
			responseSize = 0
		}

		metrics.RecordHTTPRequest(
			c.Request.Method,
			endpoint,
			strconv.Itoa(status),
			time.Since(start),
			requestSize,
			responseSize,
		)
		if status >= 500 {
			metrics.RecordError("http_error", "http")
		}
		metrics.UpdateSystemUptime(time.Since(startedAt))
	}
}
