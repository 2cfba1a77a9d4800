// Package turnstile 调用 Cloudflare Turnstile siteverify 接口校验人机验证令牌。
package turnstile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"hookforms/backend/internal/config"
	"hookforms/backend/internal/domain"
)

// TokenField 请求体中携带令牌的字段
const TokenField = "cf-turnstile-response"

var (
	// ErrMissingToken 请求体中没有令牌
	ErrMissingToken = domain.ErrChallengeMissing
	// ErrRejected 校验服务判定令牌无效
	ErrRejected = domain.ErrChallengeFailed
	// ErrUnavailable 校验服务无法访问或返回了无法解析的响应
	ErrUnavailable = domain.ErrChallengeUnavailable
)

type verifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verifier Turnstile 校验客户端
type Verifier struct {
	verifyURL string
	client    *http.Client
	log       *zap.Logger
}

// NewVerifier 创建校验客户端
func NewVerifier(cfg config.TurnstileConfig, log *zap.Logger) *Verifier {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Verifier{
		verifyURL: cfg.VerifyURL,
		client:    &http.Client{Timeout: timeout},
		log:       log.Named("turnstile"),
	}
}

// Verify 校验令牌。令牌为空返回 ErrMissingToken，
// 校验失败返回 ErrRejected，网络或解析错误返回 ErrUnavailable。
func (v *Verifier) Verify(ctx context.Context, secret, token, remoteIP string) error {
	if token == "" {
		return ErrMissingToken
	}

	form := url.Values{
		"secret":   {secret},
		"response": {token},
		"remoteip": {remoteIP},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		v.log.Warn("turnstile verification request failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	var out verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		v.log.Warn("turnstile verification response unreadable",
			zap.Int("status", resp.StatusCode),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !out.Success {
		v.log.Info("turnstile verification rejected", zap.Strings("error_codes", out.ErrorCodes))
		return ErrRejected
	}
	return nil
}
