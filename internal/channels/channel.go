package channels

import (
	"errors"
	"fmt"

	"hookforms/backend/internal/domain"
)

// ErrInvalidConfig 渠道配置缺少必要字段
var ErrInvalidConfig = errors.New("invalid channel config")

// skipKeys 渲染时忽略的内部字段
var skipKeys = map[string]struct{}{
	"cf-turnstile-response": {},
	"raw":                   {},
	"source":                {},
}

// Context 渲染通知所需的收件箱信息和请求体
type Context struct {
	Slug          string
	SubjectPrefix string
	SenderName    string
	Body          *domain.Payload
}

// NewContext 根据收件箱构造渲染上下文
func NewContext(inbox *domain.Inbox, body *domain.Payload) Context {
	return Context{
		Slug:          inbox.Slug,
		SubjectPrefix: inbox.SubjectPrefix(),
		SenderName:    inbox.DisplayName(),
		Body:          body,
	}
}

// Title 通知标题
func (c Context) Title() string {
	return c.SubjectPrefix + " New Submission"
}

// Origin 来源标识，同时用于 X-Forwarded-From 头
func (c Context) Origin() string {
	return "hookforms/hooks/" + c.Slug
}

// Request 一次出站 HTTP 请求的描述
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Formatter 把请求体渲染成目标渠道的 HTTP 请求
type Formatter func(cfg map[string]any, c Context) (Request, error)

var registry = map[domain.ChannelType]Formatter{
	domain.ChannelDiscord:  FormatDiscord,
	domain.ChannelSlack:    FormatSlack,
	domain.ChannelTeams:    FormatTeams,
	domain.ChannelTelegram: FormatTelegram,
	domain.ChannelNtfy:     FormatNtfy,
	domain.ChannelWebhook:  FormatWebhook,
}

// Lookup 查找渠道类型对应的格式化函数，邮件渠道没有格式化函数
func Lookup(t domain.ChannelType) (Formatter, bool) {
	f, ok := registry[t]
	return f, ok
}

// Field 一个待展示的字段
type Field struct {
	Key   string
	Value any
}

// VisibleFields 按原顺序返回需要展示的字段，忽略内部字段和空值
func VisibleFields(body *domain.Payload) []Field {
	var out []Field
	body.Range(func(k string, v any) bool {
		if _, skip := skipKeys[k]; skip || !Truthy(v) {
			return true
		}
		out = append(out, Field{Key: k, Value: v})
		return true
	})
	return out
}

func configString(cfg map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := cfg[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func requireURL(cfg map[string]any, keys ...string) (string, error) {
	u := configString(cfg, keys...)
	if u == "" {
		return "", fmt.Errorf("%w: missing %s", ErrInvalidConfig, keys[0])
	}
	return u, nil
}

func baseHeaders(c Context, contentType string) map[string]string {
	h := map[string]string{"X-Forwarded-From": c.Origin()}
	if contentType != "" {
		h["Content-Type"] = contentType
	}
	return h
}
