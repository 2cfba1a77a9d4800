package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hookforms/backend/internal/auth"
	"hookforms/backend/internal/domain"
	"hookforms/backend/internal/storage"
)

// maxKeyNameLength 密钥名称的最大长度
const maxKeyNameLength = 100

// APIKeyService API Key业务逻辑服务
type APIKeyService struct {
	keys storage.APIKeyRepository
	log  *zap.Logger
	now  func() time.Time
}

// NewAPIKeyService 创建API Key服务
func NewAPIKeyService(keys storage.APIKeyRepository, log *zap.Logger) *APIKeyService {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIKeyService{keys: keys, log: log.Named("apikey"), now: time.Now}
}

// CreateAPIKey 创建新的API Key
//
// 参数:
//   - name: 密钥名称
//   - scopes: 权限列表，只能包含 webhooks 和 admin
//
// 返回值:
//   - *domain.APIKey: 保存的记录（只含哈希）
//   - string: 明文密钥，只在创建时返回一次
//   - error: 错误信息
func (s *APIKeyService) CreateAPIKey(ctx context.Context, name string, scopes []string) (*domain.APIKey, string, error) {
	if err := domain.ValidateKeyName(name); err != nil || len(name) > maxKeyNameLength {
		return nil, "", invalidField("name", fmt.Sprintf("name must be 1-%d characters", maxKeyNameLength))
	}
	if err := domain.ValidateScopes(scopes); err != nil {
		return nil, "", invalidField("scopes", invalidScopesMessage(scopes))
	}
	if scopes == nil {
		scopes = []string{}
	}

	raw, err := auth.GenerateKey()
	if err != nil {
		return nil, "", err
	}
	hash, err := auth.HashKey(raw)
	if err != nil {
		return nil, "", err
	}
	prefix := domain.PrefixOf(raw)

	now := s.now().UTC()
	key := &domain.APIKey{
		ID:        uuid.NewString(),
		Name:      name,
		KeyHash:   hash,
		KeyPrefix: &prefix,
		Scopes:    scopes,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.keys.CreateAPIKey(ctx, key); err != nil {
		return nil, "", fmt.Errorf("create api key: %w", err)
	}
	s.log.Info("api key created", zap.String("id", key.ID), zap.Strings("scopes", scopes))
	return key, raw, nil
}

// ListAPIKeys 分页列出全部密钥，最新的在前
func (s *APIKeyService) ListAPIKeys(ctx context.Context, limit, offset int) ([]*domain.APIKey, int64, error) {
	return s.keys.ListAPIKeys(ctx, limit, offset)
}

// RevokeAPIKey 停用密钥，记录保留
func (s *APIKeyService) RevokeAPIKey(ctx context.Context, id string) error {
	if err := s.keys.DeactivateAPIKey(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrAPIKeyNotFound
		}
		return fmt.Errorf("revoke api key: %w", err)
	}
	s.log.Info("api key revoked", zap.String("id", id))
	return nil
}

func invalidScopesMessage(scopes []string) string {
	var bad []string
	for _, sc := range scopes {
		if domain.ValidateScopes([]string{sc}) != nil {
			bad = append(bad, sc)
		}
	}
	sort.Strings(bad)
	valid := append([]string(nil), domain.AllScopes...)
	sort.Strings(valid)
	return fmt.Sprintf("Invalid scopes: %s. Valid: %s", strings.Join(bad, ", "), strings.Join(valid, ", "))
}
