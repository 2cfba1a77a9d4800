package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hookforms/backend/internal/domain"
	"hookforms/backend/internal/storage"
)

// URLChecker 出站地址安全校验，*security.Guard 满足该接口
type URLChecker interface {
	IsSafeURL(ctx context.Context, rawURL string) (bool, string)
}

// InboxStore 收件箱服务需要的存储能力
type InboxStore interface {
	storage.InboxRepository
	storage.EventRepository
}

// InboxService 收件箱管理
type InboxService struct {
	store InboxStore
	urls  URLChecker
	log   *zap.Logger
	now   func() time.Time
}

// NewInboxService 创建收件箱服务
func NewInboxService(store InboxStore, urls URLChecker, log *zap.Logger) *InboxService {
	if log == nil {
		log = zap.NewNop()
	}
	return &InboxService{store: store, urls: urls, log: log.Named("inbox"), now: time.Now}
}

// CreateInboxInput 创建收件箱的参数
type CreateInboxInput struct {
	Slug               string
	Description        string
	ForwardURL         string
	NotifyEmail        string
	EmailSubjectPrefix string
	SenderName         string
	TurnstileSecret    string
}

// UpdateInboxInput 部分更新，nil 表示不修改
type UpdateInboxInput struct {
	Description        *string
	ForwardURL         *string
	NotifyEmail        *string
	EmailSubjectPrefix *string
	SenderName         *string
	TurnstileSecret    *string
	IsActive           *bool
}

// Get 按 slug 查找收件箱（包括已停用的）
func (s *InboxService) Get(ctx context.Context, slug string) (*domain.Inbox, error) {
	inbox, err := s.store.GetInboxBySlug(ctx, slug)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrInboxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load inbox %s: %w", slug, err)
	}
	return inbox, nil
}

// List 分页列出收件箱
func (s *InboxService) List(ctx context.Context, limit, offset int) ([]*domain.Inbox, int64, error) {
	return s.store.ListInboxes(ctx, limit, offset)
}

// Create 创建收件箱。forward_url 必须通过出站安全校验。
func (s *InboxService) Create(ctx context.Context, in CreateInboxInput) (*domain.Inbox, error) {
	if err := domain.ValidateSlug(in.Slug); err != nil {
		return nil, invalidField("slug", err.Error())
	}
	if err := validateNotifyEmail(in.NotifyEmail); err != nil {
		return nil, err
	}
	if err := s.checkForwardURL(ctx, in.ForwardURL); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	inbox := &domain.Inbox{
		ID:                 uuid.NewString(),
		Slug:               in.Slug,
		Description:        in.Description,
		ForwardURL:         in.ForwardURL,
		NotifyEmail:        in.NotifyEmail,
		EmailSubjectPrefix: in.EmailSubjectPrefix,
		SenderName:         in.SenderName,
		TurnstileSecret:    in.TurnstileSecret,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.CreateInbox(ctx, inbox); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return nil, ErrSlugTaken
		}
		return nil, fmt.Errorf("create inbox: %w", err)
	}
	s.log.Info("inbox created", zap.String("slug", inbox.Slug), zap.String("id", inbox.ID))
	return inbox, nil
}

// Update 部分更新收件箱
func (s *InboxService) Update(ctx context.Context, slug string, in UpdateInboxInput) (*domain.Inbox, error) {
	inbox, err := s.Get(ctx, slug)
	if err != nil {
		return nil, err
	}

	if in.ForwardURL != nil {
		if err := s.checkForwardURL(ctx, *in.ForwardURL); err != nil {
			return nil, err
		}
		inbox.ForwardURL = *in.ForwardURL
	}
	if in.NotifyEmail != nil {
		if err := validateNotifyEmail(*in.NotifyEmail); err != nil {
			return nil, err
		}
		inbox.NotifyEmail = *in.NotifyEmail
	}
	if in.Description != nil {
		inbox.Description = *in.Description
	}
	if in.EmailSubjectPrefix != nil {
		inbox.EmailSubjectPrefix = *in.EmailSubjectPrefix
	}
	if in.SenderName != nil {
		inbox.SenderName = *in.SenderName
	}
	if in.TurnstileSecret != nil {
		inbox.TurnstileSecret = *in.TurnstileSecret
	}
	if in.IsActive != nil {
		inbox.IsActive = *in.IsActive
	}
	inbox.UpdatedAt = s.now().UTC()

	if err := s.store.UpdateInbox(ctx, inbox); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrInboxNotFound
		}
		return nil, fmt.Errorf("update inbox: %w", err)
	}
	return inbox, nil
}

// Delete 删除收件箱，渠道、服务商和事件一并删除
func (s *InboxService) Delete(ctx context.Context, slug string) error {
	inbox, err := s.Get(ctx, slug)
	if err != nil {
		return err
	}
	if err := s.store.DeleteInbox(ctx, inbox.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ErrInboxNotFound
		}
		return fmt.Errorf("delete inbox: %w", err)
	}
	s.log.Info("inbox deleted", zap.String("slug", slug))
	return nil
}

// ListEvents 分页列出收件箱的事件，最新的在前
func (s *InboxService) ListEvents(ctx context.Context, slug string, limit, offset int) ([]*domain.Event, int64, error) {
	inbox, err := s.Get(ctx, slug)
	if err != nil {
		return nil, 0, err
	}
	return s.store.ListEvents(ctx, inbox.ID, limit, offset)
}

func (s *InboxService) checkForwardURL(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	if ok, reason := s.urls.IsSafeURL(ctx, raw); !ok {
		return badRequest("Invalid forward_url: %s", reason)
	}
	return nil
}

func validateNotifyEmail(list string) error {
	for _, addr := range domain.SplitAddressList(list) {
		if err := domain.ValidateEmailAddress(addr); err != nil {
			return invalidField("notify_email", fmt.Sprintf("%s: %s", addr, err))
		}
	}
	return nil
}
