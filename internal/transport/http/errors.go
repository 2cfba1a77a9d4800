package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hookforms/backend/internal/domain"
	"hookforms/backend/internal/service"
)

// 通用错误消息
const (
	MsgValidationError = "Validation error"
	MsgInvalidBody     = "Invalid request body"
	MsgInternalError   = "Internal server error"
)

// challengeErrors 人机校验错误对应的状态码与消息
var challengeErrors = []struct {
	err    error
	status int
	msg    string
}{
	{domain.ErrChallengeMissing, http.StatusBadRequest, "Missing Turnstile verification token"},
	{domain.ErrChallengeFailed, http.StatusForbidden, "Turnstile verification failed"},
	{domain.ErrChallengeUnavailable, http.StatusServiceUnavailable, "Turnstile verification unavailable"},
}

// writeError 把服务层错误映射为 HTTP 响应。未知错误只记录日志，对外返回通用 500。
func writeError(c *gin.Context, log *zap.Logger, err error) {
	var (
		reqErr *service.RequestError
		valErr *service.ValidationError
	)

	for _, ce := range challengeErrors {
		if errors.Is(err, ce.err) {
			Error(c, ce.status, ce.msg)
			return
		}
	}

	switch {
	case errors.As(err, &valErr):
		ValidationFailed(c, valErr.Details)
	case errors.As(err, &reqErr):
		BadRequest(c, reqErr.Message)
	case errors.Is(err, domain.ErrNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists):
		Error(c, http.StatusConflict, err.Error())
	default:
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		InternalError(c)
	}
}

// bindJSON 解析请求体，失败时返回 422
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		ValidationFailed(c, []fieldDetail{{Loc: []string{"body"}, Msg: err.Error()}})
		return false
	}
	return true
}
