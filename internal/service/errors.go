package service

import (
	"fmt"

	"hookforms/backend/internal/domain"
)

// RequestError 请求内容在业务上不合法，对应 400
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string { return e.Message }

func badRequest(format string, args ...any) error {
	return &RequestError{Message: fmt.Sprintf(format, args...)}
}

// FieldError 单个字段的校验失败信息
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"msg"`
}

// ValidationError 请求字段校验失败，对应 422，Details 原样返回给调用方
type ValidationError struct {
	Details []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return "validation error"
	}
	return fmt.Sprintf("validation error: %s: %s", e.Details[0].Field, e.Details[0].Message)
}

func invalidField(field, msg string) error {
	return &ValidationError{Details: []FieldError{{Field: field, Message: msg}}}
}

// notFound 资源不存在，errors.Is 匹配 domain.ErrNotFound
type notFound struct{ what string }

func (e notFound) Error() string        { return e.what + " not found" }
func (e notFound) Is(target error) bool { return target == domain.ErrNotFound }

// conflict 资源已存在，errors.Is 匹配 domain.ErrAlreadyExists
type conflict struct{ msg string }

func (e conflict) Error() string        { return e.msg }
func (e conflict) Is(target error) bool { return target == domain.ErrAlreadyExists }

var (
	ErrInboxNotFound   error = notFound{"Inbox"}
	ErrChannelNotFound error = notFound{"Channel"}
	ErrAPIKeyNotFound  error = notFound{"API key"}
	ErrSlugTaken       error = conflict{"Inbox slug already exists"}
)
