package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// DefaultBodyLimit 默认请求体大小限制
const DefaultBodyLimit = 2 * 1024 * 1024 // 2MB

// BodySizeLimit 限制请求体大小。
// 声明的 Content-Length 超限时直接返回 413，未声明长度的请求在读取时由 MaxBytesReader 截断。
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = DefaultBodyLimit
	}
	message := BodyLimitMessage(maxBytes)

	return func(c *gin.Context) {
		if isHealthPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		if c.Request.ContentLength > maxBytes {
			abortWithError(c, http.StatusRequestEntityTooLarge, message)
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// BodyLimitMessage 413 响应的提示文案，不足 1MB 时按字节显示
func BodyLimitMessage(maxBytes int64) string {
	if maxBytes <= 0 {
		maxBytes = DefaultBodyLimit
	}
	if maxBytes < 1024*1024 {
		return fmt.Sprintf("Request body too large. Max size is %d bytes.", maxBytes)
	}
	return fmt.Sprintf("Request body too large. Max size is %d MB.", maxBytes/(1024*1024))
}
