package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"slices"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail = errors.New("invalid email address")
	ErrEmailTooLong = errors.New("email address too long")
	ErrInvalidSlug  = errors.New("slug must be 1-100 characters of letters, digits, '-' or '_'")
	ErrInvalidScope = errors.New("unknown scope")
	ErrInvalidName  = errors.New("name must be 1-255 characters")
)

// 验证常量
const (
	MaxEmailLength = 254 // RFC 5322 邮箱地址最大长度
	MaxSlugLength  = 100
	MaxNameLength  = 255
)

var slugRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidateEmailAddress 校验单个收件人地址
func ValidateEmailAddress(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" || !strings.Contains(addr, "@") {
		return ErrInvalidEmail
	}
	if len(addr) > MaxEmailLength {
		return ErrEmailTooLong
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return ErrInvalidEmail
	}
	// 只接受裸地址，不接受 "Name <addr>" 形式
	if parsed.Address != addr {
		return ErrInvalidEmail
	}
	return nil
}

// ValidateSlug 校验收件箱 slug，slug 会出现在公开 URL 中
func ValidateSlug(slug string) error {
	if len(slug) == 0 || len(slug) > MaxSlugLength || !slugRegex.MatchString(slug) {
		return ErrInvalidSlug
	}
	return nil
}

// ValidateScopes 校验权限列表只包含已知权限
func ValidateScopes(scopes []string) error {
	for _, s := range scopes {
		if !slices.Contains(AllScopes, s) {
			return ErrInvalidScope
		}
	}
	return nil
}

// ValidateKeyName 校验 API 密钥名称
func ValidateKeyName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > MaxNameLength {
		return ErrInvalidName
	}
	return nil
}
