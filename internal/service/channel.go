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
	"hookforms/backend/internal/storage"
)

// ChannelService 通知渠道管理
type ChannelService struct {
	inboxes  storage.InboxRepository
	channels storage.ChannelRepository
	urls     URLChecker
	log      *zap.Logger
	now      func() time.Time
}

// NewChannelService 创建渠道服务
func NewChannelService(inboxes storage.InboxRepository, chs storage.ChannelRepository, urls URLChecker, log *zap.Logger) *ChannelService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ChannelService{inboxes: inboxes, channels: chs, urls: urls, log: log.Named("channel"), now: time.Now}
}

// CreateChannelInput 新建渠道的参数
type CreateChannelInput struct {
	Type   string
	Label  string
	Config map[string]any
}

// UpdateChannelInput 部分更新，nil 表示不修改
type UpdateChannelInput struct {
	Type     *string
	Label    *string
	Config   map[string]any
	IsActive *bool
}

// Create 为收件箱添加渠道。
// 通用 webhook 的地址可识别为 Discord、Slack 等时自动改用对应类型。
func (s *ChannelService) Create(ctx context.Context, slug string, in CreateChannelInput) (*domain.Channel, error) {
	inbox, err := s.inbox(ctx, slug)
	if err != nil {
		return nil, err
	}

	t, err := parseChannelType(in.Type)
	if err != nil {
		return nil, err
	}
	if in.Config == nil {
		in.Config = map[string]any{}
	}
	if t == domain.ChannelWebhook {
		if u := channels.DestinationURL(domain.ChannelWebhook, in.Config); u != "" {
			t = channels.DetectType(u)
		}
	}
	if err := s.checkConfig(ctx, t, in.Config); err != nil {
		return nil, err
	}

	ch := &domain.Channel{
		ID:        uuid.NewString(),
		InboxID:   inbox.ID,
		Type:      t,
		Label:     in.Label,
		Config:    in.Config,
		IsActive:  true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.channels.CreateChannel(ctx, ch); err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}
	s.log.Info("channel created",
		zap.String("inbox", slug),
		zap.String("id", ch.ID),
		zap.String("type", string(ch.Type)))
	return ch, nil
}

// List 列出收件箱的全部渠道
func (s *ChannelService) List(ctx context.Context, slug string) ([]*domain.Channel, error) {
	inbox, err := s.inbox(ctx, slug)
	if err != nil {
		return nil, err
	}
	return s.channels.ListChannels(ctx, inbox.ID)
}

// Update 部分更新渠道，类型或配置变化时重新校验
func (s *ChannelService) Update(ctx context.Context, slug, id string, in UpdateChannelInput) (*domain.Channel, error) {
	inbox, err := s.inbox(ctx, slug)
	if err != nil {
		return nil, err
	}
	ch, err := s.channels.GetChannel(ctx, inbox.ID, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load channel: %w", err)
	}

	revalidate := false
	if in.Type != nil {
		t, err := parseChannelType(*in.Type)
		if err != nil {
			return nil, err
		}
		ch.Type = t
		revalidate = true
	}
	if in.Config != nil {
		ch.Config = in.Config
		revalidate = true
	}
	if revalidate {
		if err := s.checkConfig(ctx, ch.Type, ch.Config); err != nil {
			return nil, err
		}
	}
	if in.Label != nil {
		ch.Label = *in.Label
	}
	if in.IsActive != nil {
		ch.IsActive = *in.IsActive
	}

	if err := s.channels.UpdateChannel(ctx, ch); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrChannelNotFound
		}
		return nil, fmt.Errorf("update channel: %w", err)
	}
	return ch, nil
}

// Delete 删除渠道
func (s *ChannelService) Delete(ctx context.Context, slug, id string) error {
	inbox, err := s.inbox(ctx, slug)
	if err != nil {
		return err
	}
	if err := s.channels.DeleteChannel(ctx, inbox.ID, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrChannelNotFound
		}
		return fmt.Errorf("delete channel: %w", err)
	}
	return nil
}

func (s *ChannelService) inbox(ctx context.Context, slug string) (*domain.Inbox, error) {
	inbox, err := s.inboxes.GetInboxBySlug(ctx, slug)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrInboxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load inbox %s: %w", slug, err)
	}
	return inbox, nil
}

// checkConfig 校验配置字段以及出站地址
func (s *ChannelService) checkConfig(ctx context.Context, t domain.ChannelType, cfg map[string]any) error {
	if msg := channels.ValidateChannelConfig(t, cfg); msg != "" {
		return badRequest("%s", msg)
	}
	dest := channels.DestinationURL(t, cfg)
	if dest == "" {
		return nil
	}
	if ok, reason := s.urls.IsSafeURL(ctx, dest); !ok {
		return badRequest("Invalid destination URL: %s", reason)
	}
	return nil
}

func parseChannelType(input string) (domain.ChannelType, error) {
	t := domain.ChannelType(input)
	if t.Valid() {
		return t, nil
	}
	if suggestion, ok := channels.SuggestChannelType(input); ok {
		return "", badRequest("Invalid channel type: %s. Did you mean '%s'?", input, suggestion)
	}
	return "", badRequest("Invalid channel type: %s.", input)
}
