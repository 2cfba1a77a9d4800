package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"hookforms/backend/internal/config"
	"hookforms/backend/internal/domain"
	"hookforms/backend/internal/storage"
)

// Resolver 按优先级为收件箱选择邮件发送通道：
// 收件箱专属服务商、全局服务商、旧版 Gmail 配置，都没有时返回 nil。
type Resolver struct {
	store   storage.ProviderRepository
	legacy  config.GmailConfig
	timeout time.Duration
	log     *zap.Logger

	// base 传给 Gmail 令牌缓存的底层客户端
	base *http.Client

	mu     sync.Mutex
	tokens map[string]*TokenCache
}

// NewResolver 创建服务商解析器
func NewResolver(store storage.ProviderRepository, legacy config.GmailConfig, timeout time.Duration, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		store:   store,
		legacy:  legacy,
		timeout: orDefault(timeout),
		log:     log.Named("mailer"),
		tokens:  make(map[string]*TokenCache),
	}
}

// Resolve 返回收件箱可用的发送通道，没有可用通道时返回 (nil, nil)。
// 存储的服务商配置无法使用时返回错误。
func (r *Resolver) Resolve(ctx context.Context, inboxID string) (Provider, error) {
	scopes := []*string{&inboxID, nil}
	for _, scope := range scopes {
		rec, err := r.store.GetActiveProvider(ctx, scope)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load email provider: %w", err)
		}
		p, err := r.FromRecord(rec)
		if err != nil {
			r.log.Error("stored email provider is unusable",
				zap.String("provider_id", rec.ID),
				zap.String("type", string(rec.Type)),
				zap.Error(err),
			)
			return nil, err
		}
		return p, nil
	}
	return r.Legacy(), nil
}

// Legacy 返回进程配置中的旧版 Gmail 通道，令牌文件不存在或未配置发件人时返回 nil
func (r *Resolver) Legacy() Provider {
	if !r.LegacyAvailable() {
		return nil
	}
	return NewGmail(r.legacy.SenderEmail, r.tokenCache(r.legacy.CredentialsPath, r.legacy.TokenPath), r.timeout)
}

// LegacyAvailable 旧版 Gmail 配置是否可用
func (r *Resolver) LegacyAvailable() bool {
	return r.legacy.SenderEmail != "" && tokenFileExists(r.legacy.TokenPath)
}

// FromRecord 根据存储的服务商记录构造发送通道
func (r *Resolver) FromRecord(rec *domain.EmailProvider) (Provider, error) {
	cfg := rec.Config
	switch rec.Type {
	case domain.ProviderGmail:
		s, err := ParseGmailConfig(cfg, r.legacy.TrustedDir)
		if err != nil {
			return nil, err
		}
		return NewGmail(s.SenderEmail, r.tokenCache(s.CredentialsPath, s.TokenPath), r.timeout), nil
	case domain.ProviderResend, domain.ProviderSendGrid:
		apiKey, err := requireString(cfg, "api_key")
		if err != nil {
			return nil, err
		}
		from, err := requireString(cfg, "from_email")
		if err != nil {
			return nil, err
		}
		if rec.Type == domain.ProviderResend {
			return NewResend(apiKey, from, r.timeout), nil
		}
		return NewSendGrid(apiKey, from, r.timeout), nil
	case domain.ProviderSMTP:
		return NewSMTPFromConfig(cfg, r.timeout)
	default:
		return nil, fmt.Errorf("%w: unknown email provider type: %s", ErrInvalidProvider, rec.Type)
	}
}

// tokenCache 同一令牌文件在进程内共享一个缓存
func (r *Resolver) tokenCache(credentialsPath, tokenPath string) *TokenCache {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.tokens[tokenPath]; ok {
		return c
	}
	c := NewTokenCache(credentialsPath, tokenPath, r.base, r.log)
	r.tokens[tokenPath] = c
	return c
}
