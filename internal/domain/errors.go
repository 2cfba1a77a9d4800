package domain

import "errors"

// 认证与授权错误
var (
	ErrUnauthenticated   = errors.New("missing API key")
	ErrInvalidCredential = errors.New("invalid API key")
	ErrTooManyAttempts   = errors.New("too many failed authentication attempts")
	ErrForbidden         = errors.New("key lacks required scope")
)

// 限流与可用性错误
var (
	ErrRateLimited        = errors.New("too many requests")
	ErrServiceUnavailable = errors.New("service temporarily unavailable")
	ErrBodyTooLarge       = errors.New("request body too large")
)

// 出站投递错误
var (
	ErrUnsafeDestination = errors.New("unsafe destination")
	ErrDeliveryFailed    = errors.New("delivery failed")
)

// 人机校验错误
var (
	ErrChallengeMissing     = errors.New("missing Turnstile verification token")
	ErrChallengeFailed      = errors.New("Turnstile verification failed")
	ErrChallengeUnavailable = errors.New("Turnstile verification unavailable")
)

// 存储错误
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)
