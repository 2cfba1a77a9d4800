package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hookforms/backend/internal/domain"
	"hookforms/backend/internal/mailer"
	"hookforms/backend/internal/monitoring"
	"hookforms/backend/internal/notify"
	"hookforms/backend/internal/storage"
	"hookforms/backend/internal/turnstile"
)

// 请求体的解析方式
const (
	BodyKindJSON  = "json"
	BodyKindForm  = "form"
	BodyKindRaw   = "raw"
	BodyKindEmpty = "empty"
)

// maxFormFieldBytes 单个 multipart 字段读取上限
const maxFormFieldBytes = 1 << 20

// ParseBody 依次尝试 JSON 对象、表单和原始文本。
// 非对象的 JSON 按原始文本处理；表单只保留字符串字段，文件字段被丢弃。
func ParseBody(contentType string, raw []byte) (*domain.Payload, string) {
	if p, err := domain.ParsePayload(raw); err == nil {
		return p, BodyKindJSON
	}

	mediaType, params, _ := mime.ParseMediaType(contentType)
	dec := newTextDecoder(params["charset"])
	switch mediaType {
	case "application/x-www-form-urlencoded":
		if p, err := parseURLEncoded(raw, dec); err == nil {
			return p, BodyKindForm
		}
	case "multipart/form-data":
		if p, err := parseMultipart(raw, params["boundary"]); err == nil {
			return p, BodyKindForm
		}
	}

	if len(raw) == 0 {
		return nil, BodyKindEmpty
	}
	return domain.PayloadFromPairs("raw", strings.ToValidUTF8(dec.decode(string(raw)), "�")), BodyKindRaw
}

// parseURLEncoded 保留字段出现顺序，重复字段取最后一个值
func parseURLEncoded(raw []byte, dec textDecoder) (*domain.Payload, error) {
	p := domain.NewPayload()
	for _, pair := range strings.Split(string(raw), "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, fmt.Errorf("decode form key: %w", err)
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, fmt.Errorf("decode form value %q: %w", key, err)
		}
		p.Set(dec.decode(key), dec.decode(value))
	}
	return p, nil
}

func parseMultipart(raw []byte, boundary string) (*domain.Payload, error) {
	if boundary == "" {
		return nil, errors.New("multipart boundary missing")
	}
	p := domain.NewPayload()
	r := multipart.NewReader(bytes.NewReader(raw), boundary)
	for {
		part, err := r.NextPart()
		if errors.Is(err, io.EOF) {
			return p, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read multipart: %w", err)
		}
		if part.FormName() == "" || part.FileName() != "" {
			part.Close()
			continue
		}
		value, err := io.ReadAll(io.LimitReader(part, maxFormFieldBytes))
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("read field %q: %w", part.FormName(), err)
		}
		_, partParams, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		p.Set(part.FormName(), newTextDecoder(partParams["charset"]).decode(string(value)))
	}
}

// ChallengeVerifier 人机校验
type ChallengeVerifier interface {
	Verify(ctx context.Context, secret, token, remoteIP string) error
}

// Notifier 通知分发
type Notifier interface {
	Dispatch(ctx context.Context, inbox *domain.Inbox, chs []*domain.Channel, body *domain.Payload, provider mailer.Provider) notify.Report
	Legacy(ctx context.Context, inbox *domain.Inbox, method string, body *domain.Payload) notify.Report
}

// EventBroadcaster 实时推送新事件
type EventBroadcaster interface {
	NotifyEvent(slug string, ev *domain.Event)
}

// InboundRequest 一次 webhook 调用的原始内容
type InboundRequest struct {
	Slug        string
	Method      string
	ContentType string
	Body        []byte
	Headers     map[string]string
	Query       map[string]string
	SourceIP    string
	ChallengeIP string // CF-Connecting-IP，原样转交给 Turnstile
}

// ReceiveDependencies 接收服务的依赖
type ReceiveDependencies struct {
	Inboxes     storage.InboxRepository
	Channels    storage.ChannelRepository
	Events      storage.EventRepository
	Verifier    ChallengeVerifier
	Notifier    Notifier
	Providers   notify.ProviderResolver
	Broadcaster EventBroadcaster // 可选
	Metrics     *monitoring.Metrics
	Timeout     time.Duration // 单个事件的分发总时长
	Logger      *zap.Logger
}

// ReceiveService 处理公开的 /hooks/:slug 请求
type ReceiveService struct {
	deps ReceiveDependencies
	log  *zap.Logger
	now  func() time.Time
}

// NewReceiveService 创建接收服务
func NewReceiveService(deps ReceiveDependencies) *ReceiveService {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Timeout <= 0 {
		deps.Timeout = 60 * time.Second
	}
	return &ReceiveService{deps: deps, log: log.Named("receive"), now: time.Now}
}

// Receive 解析请求体、完成人机校验、保存事件，然后同步分发通知。
// 事件保存成功后分发中的任何失败都不会影响返回值。
func (s *ReceiveService) Receive(ctx context.Context, req InboundRequest) (*domain.Event, error) {
	inbox, err := s.deps.Inboxes.GetActiveInboxBySlug(ctx, req.Slug)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrInboxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load inbox %s: %w", req.Slug, err)
	}

	body, kind := ParseBody(req.ContentType, req.Body)

	if inbox.HasTurnstile() && body.Len() > 0 {
		if err := s.verifyChallenge(ctx, inbox, body, req.ChallengeIP); err != nil {
			return nil, err
		}
	}

	ev := &domain.Event{
		ID:          uuid.NewString(),
		InboxID:     inbox.ID,
		Method:      req.Method,
		Headers:     req.Headers,
		Body:        body,
		QueryParams: req.Query,
		SourceIP:    req.SourceIP,
		ReceivedAt:  s.now().UTC(),
	}
	if ev.Headers == nil {
		ev.Headers = map[string]string{}
	}
	if ev.QueryParams == nil {
		ev.QueryParams = map[string]string{}
	}
	if err := s.deps.Events.AppendEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("persist event: %w", err)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordEventReceived(req.Method, kind)
	}
	if s.deps.Broadcaster != nil {
		s.deps.Broadcaster.NotifyEvent(inbox.Slug, ev)
	}

	if body.Len() > 0 {
		s.dispatch(ctx, inbox, req.Method, body)
	}
	return ev, nil
}

func (s *ReceiveService) verifyChallenge(ctx context.Context, inbox *domain.Inbox, body *domain.Payload, remoteIP string) error {
	raw, _ := body.Pop(turnstile.TokenField)
	token, _ := raw.(string)
	err := s.deps.Verifier.Verify(ctx, inbox.TurnstileSecret, token, remoteIP)
	if err == nil {
		return nil
	}

	reason := "unavailable"
	switch {
	case errors.Is(err, turnstile.ErrMissingToken):
		reason = "missing"
	case errors.Is(err, turnstile.ErrRejected):
		reason = "rejected"
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordChallengeFailure(reason)
	}
	s.log.Info("challenge verification failed", zap.String("inbox", inbox.Slug), zap.String("reason", reason))
	return err
}

// dispatch 在脱离请求取消信号的上下文中分发，总时长受 Timeout 约束
func (s *ReceiveService) dispatch(ctx context.Context, inbox *domain.Inbox, method string, body *domain.Payload) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deps.Timeout)
	defer cancel()

	chs, err := s.deps.Channels.ListActiveChannels(ctx, inbox.ID)
	if err != nil {
		s.log.Error("notification dispatch failed", zap.String("inbox", inbox.Slug), zap.Error(err))
		return
	}

	var report notify.Report
	if len(chs) > 0 {
		var provider mailer.Provider
		if s.deps.Providers != nil {
			provider, err = s.deps.Providers.Resolve(ctx, inbox.ID)
			if err != nil {
				s.log.Error("email provider resolution failed", zap.String("inbox", inbox.Slug), zap.Error(err))
				provider = nil
			}
		}
		report = s.deps.Notifier.Dispatch(ctx, inbox, chs, body, provider)
	} else {
		report = s.deps.Notifier.Legacy(ctx, inbox, method, body)
	}

	if failed := report.Failed(); failed > 0 {
		s.log.Warn("notification dispatch finished with failures",
			zap.String("inbox", inbox.Slug),
			zap.Int("failed", failed),
			zap.Int("channels", len(report.Channels)),
			zap.Int("emails", len(report.Emails)))
	}
}
