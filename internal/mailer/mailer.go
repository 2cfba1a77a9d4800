// Package mailer 封装通知邮件的发送通道：Gmail、Resend、SendGrid 和 SMTP。
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"hookforms/backend/internal/domain"
)

// ErrTransport 邮件发送失败
var ErrTransport = errors.New("email transport failed")

// ErrInvalidProvider 服务商配置无法使用
var ErrInvalidProvider = errors.New("invalid email provider config")

// Provider 邮件发送通道
type Provider interface {
	Type() string
	Send(ctx context.Context, to, subject, html, senderName string) error
}

func displayName(senderName string) string {
	if senderName == "" {
		return domain.DefaultSenderName
	}
	return senderName
}

func requireString(cfg map[string]any, key string) (string, error) {
	s, _ := cfg[key].(string)
	if s == "" {
		return "", fmt.Errorf("%w: missing %s", ErrInvalidProvider, key)
	}
	return s, nil
}

func optionalString(cfg map[string]any, key string) string {
	s, _ := cfg[key].(string)
	return s
}

func configInt(cfg map[string]any, key string, def int) int {
	switch v := cfg[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func configBool(cfg map[string]any, key string, def bool) bool {
	switch v := cfg[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// truncateBody 错误信息中只保留响应体的开头
func truncateBody(b []byte) string {
	const max = 512
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
