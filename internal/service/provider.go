package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hookforms/backend/internal/channels"
	"hookforms/backend/internal/domain"
	"hookforms/backend/internal/mailer"
	"hookforms/backend/internal/storage"
)

// FallbackEnvGmail 没有存储的服务商但旧版 Gmail 可用时返回的标记
const FallbackEnvGmail = "env_gmail"

// ProviderBuilder 根据存储记录构造发送通道，*mailer.Resolver 满足该接口
type ProviderBuilder interface {
	FromRecord(rec *domain.EmailProvider) (mailer.Provider, error)
	LegacyAvailable() bool
}

// ProviderService 邮件服务商配置管理。slug 为空表示全局作用域。
type ProviderService struct {
	inboxes   storage.InboxRepository
	providers storage.ProviderRepository
	builder   ProviderBuilder
	log       *zap.Logger
	now       func() time.Time
}

// NewProviderService 创建服务商配置服务
func NewProviderService(inboxes storage.InboxRepository, providers storage.ProviderRepository, builder ProviderBuilder, log *zap.Logger) *ProviderService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProviderService{
		inboxes:   inboxes,
		providers: providers,
		builder:   builder,
		log:       log.Named("provider"),
		now:       time.Now,
	}
}

// Get 返回作用域内启用的服务商。没有记录时返回 nil 和回退标记。
func (s *ProviderService) Get(ctx context.Context, slug string) (*domain.EmailProvider, string, error) {
	scope, err := s.scope(ctx, slug)
	if err != nil {
		return nil, "", err
	}
	p, err := s.providers.GetActiveProvider(ctx, scope)
	if errors.Is(err, domain.ErrNotFound) {
		fallback := ""
		if s.builder != nil && s.builder.LegacyAvailable() {
			fallback = FallbackEnvGmail
		}
		return nil, fallback, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("load email provider: %w", err)
	}
	return p, "", nil
}

// Put 替换作用域内的服务商，写入前确认配置能构造出可用的发送通道
func (s *ProviderService) Put(ctx context.Context, slug, providerType string, cfg map[string]any) (*domain.EmailProvider, error) {
	t := domain.ProviderType(providerType)
	if !t.Valid() {
		return nil, badRequest("Invalid provider type: %s", providerType)
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	if msg := channels.ValidateProviderConfig(t, cfg); msg != "" {
		return nil, badRequest("%s", msg)
	}

	scope, err := s.scope(ctx, slug)
	if err != nil {
		return nil, err
	}
	rec := &domain.EmailProvider{
		ID:        uuid.NewString(),
		InboxID:   scope,
		Type:      t,
		Config:    cfg,
		IsActive:  true,
		CreatedAt: s.now().UTC(),
	}
	if s.builder != nil {
		if _, err := s.builder.FromRecord(rec); err != nil {
			return nil, badRequest("Invalid provider config: %s", err)
		}
	}

	if err := s.providers.ReplaceProvider(ctx, rec); err != nil {
		return nil, fmt.Errorf("save email provider: %w", err)
	}
	s.log.Info("email provider configured",
		zap.String("type", string(t)),
		zap.Bool("global", rec.IsGlobal()),
		zap.String("inbox", slug))
	return rec, nil
}

// Delete 删除作用域内的服务商，记录不存在时不报错
func (s *ProviderService) Delete(ctx context.Context, slug string) error {
	scope, err := s.scope(ctx, slug)
	if err != nil {
		return err
	}
	if err := s.providers.DeleteProvider(ctx, scope); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete email provider: %w", err)
	}
	return nil
}

func (s *ProviderService) scope(ctx context.Context, slug string) (*string, error) {
	if slug == "" {
		return nil, nil
	}
	inbox, err := s.inboxes.GetInboxBySlug(ctx, slug)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrInboxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load inbox %s: %w", slug, err)
	}
	return &inbox.ID, nil
}
