package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// abortWithError 以统一的错误格式终止请求
func abortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":    status,
			"message": message,
		},
	})
}

// isHealthPath 健康检查路径不受限流与请求体限制
func isHealthPath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}
