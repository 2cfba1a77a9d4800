package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"hookforms/backend/internal/config"
	"hookforms/backend/internal/domain"
	"hookforms/backend/internal/storage"
)

const adminIdentityName = "admin"

// Guard 校验 X-API-Key 并对失败来源做锁定
type Guard struct {
	keys      storage.APIKeyRepository
	counter   storage.CounterStore
	adminKey  string
	threshold int64
	window    time.Duration
	log       *zap.Logger
	now       func() time.Time
}

// NewGuard 创建认证守卫
func NewGuard(keys storage.APIKeyRepository, counter storage.CounterStore, cfg config.AuthConfig, log *zap.Logger) *Guard {
	if log == nil {
		log = zap.NewNop()
	}
	threshold := int64(cfg.LockoutThreshold)
	if threshold <= 0 {
		threshold = 10
	}
	window := cfg.LockoutWindow
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Guard{
		keys:      keys,
		counter:   counter,
		adminKey:  cfg.AdminAPIKey,
		threshold: threshold,
		window:    window,
		log:       log.Named("auth"),
		now:       time.Now,
	}
}

func failureKey(ip string) string {
	return "auth_fail:" + ip
}

// Authenticate 校验密钥并返回对应身份。
// 锁定检查依赖计数存储，存储不可用时跳过检查。
func (g *Guard) Authenticate(ctx context.Context, secret, clientIP string) (*domain.APIKey, error) {
	if secret == "" {
		return nil, domain.ErrUnauthenticated
	}

	if count, err := g.counter.Get(ctx, failureKey(clientIP)); err == nil && count >= g.threshold {
		return nil, domain.ErrTooManyAttempts
	}

	if g.adminKey != "" && subtle.ConstantTimeCompare([]byte(secret), []byte(g.adminKey)) == 1 {
		g.clearFailures(ctx, clientIP)
		return &domain.APIKey{
			Name:     adminIdentityName,
			Scopes:   append([]string(nil), domain.AllScopes...),
			IsActive: true,
		}, nil
	}

	prefix := domain.PrefixOf(secret)
	candidates, err := g.keys.ListActiveAPIKeysByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("lookup keys by prefix: %w", err)
	}
	if len(candidates) == 0 {
		candidates, err = g.keys.ListActiveAPIKeysWithoutPrefix(ctx)
		if err != nil {
			return nil, fmt.Errorf("lookup legacy keys: %w", err)
		}
	}

	for _, key := range candidates {
		if !VerifyKey(secret, key.KeyHash) {
			continue
		}
		g.clearFailures(ctx, clientIP)

		var backfill *string
		if key.KeyPrefix == nil || *key.KeyPrefix == "" {
			backfill = &prefix
			key.KeyPrefix = &prefix
		}
		usedAt := g.now().UTC()
		key.LastUsedAt = &usedAt
		if err := g.keys.TouchAPIKey(ctx, key.ID, usedAt, backfill); err != nil {
			g.log.Warn("failed to record key usage", zap.String("key_id", key.ID), zap.Error(err))
		}
		return key, nil
	}

	g.recordFailure(ctx, clientIP)
	g.log.Warn("failed auth attempt", zap.String("client_ip", clientIP))
	return nil, domain.ErrInvalidCredential
}

// Authorize 检查身份是否拥有指定权限
func Authorize(key *domain.APIKey, scope string) error {
	if !key.HasScope(scope) {
		return fmt.Errorf("%w: %s", domain.ErrForbidden, scope)
	}
	return nil
}

func (g *Guard) recordFailure(ctx context.Context, ip string) {
	if _, err := g.counter.IncrWithExpiry(ctx, failureKey(ip), g.window); err != nil {
		g.log.Warn("failed to record auth failure", zap.String("client_ip", ip), zap.Error(err))
	}
}

func (g *Guard) clearFailures(ctx context.Context, ip string) {
	if err := g.counter.Del(ctx, failureKey(ip)); err != nil {
		g.log.Debug("failed to clear auth failures", zap.String("client_ip", ip), zap.Error(err))
	}
}

// ClientIP 解析客户端 IP: CF-Connecting-IP > X-Forwarded-For 第一项 > 连接地址
func ClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
