package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hookforms/backend/internal/auth"
	"hookforms/backend/internal/domain"
	"hookforms/backend/internal/monitoring"
)

// APIKeyHeader 携带密钥的请求头
const APIKeyHeader = "X-API-Key"

const apiKeyContextKey = "apiKey"

// APIKeyAuth API Key认证中间件
type APIKeyAuth struct {
	guard   *auth.Guard
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewAPIKeyAuth 创建API Key认证中间件
func NewAPIKeyAuth(guard *auth.Guard, metrics *monitoring.Metrics, log *zap.Logger) *APIKeyAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIKeyAuth{guard: guard, metrics: metrics, log: log.Named("apikey")}
}

// RequireAPIKey 要求API Key认证，通过后把身份存入上下文
func (m *APIKeyAuth) RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := m.guard.Authenticate(c.Request.Context(), c.GetHeader(APIKeyHeader), auth.ClientIP(c.Request))
		if err != nil {
			m.reject(c, err)
			return
		}
		c.Set(apiKeyContextKey, key)
		c.Next()
	}
}

// RequireScope 要求已认证的身份拥有指定权限，必须放在 RequireAPIKey 之后
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := CurrentKey(c)
		if key == nil {
			abortWithError(c, http.StatusUnauthorized, "Missing API key")
			return
		}
		if err := auth.Authorize(key, scope); err != nil {
			abortWithError(c, http.StatusForbidden, "Key lacks required scope: "+scope)
			return
		}
		c.Next()
	}
}

// CurrentKey 返回当前请求的身份，未认证时为 nil
func CurrentKey(c *gin.Context) *domain.APIKey {
	v, ok := c.Get(apiKeyContextKey)
	if !ok {
		return nil
	}
	key, _ := v.(*domain.APIKey)
	return key
}

func (m *APIKeyAuth) reject(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		abortWithError(c, http.StatusUnauthorized, "Missing API key")
	case errors.Is(err, domain.ErrTooManyAttempts):
		if m.metrics != nil {
			m.metrics.RecordAuthLockout()
		}
		abortWithError(c, http.StatusTooManyRequests, "Too many failed authentication attempts. Try again later.")
	case errors.Is(err, domain.ErrInvalidCredential):
		if m.metrics != nil {
			m.metrics.RecordAuthFailure()
		}
		abortWithError(c, http.StatusUnauthorized, "Invalid API key")
	default:
		m.log.Error("api key lookup failed", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "Internal server error")
	}
}
