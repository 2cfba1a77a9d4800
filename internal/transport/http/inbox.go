package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hookforms/backend/internal/domain"
	"hookforms/backend/internal/service"
)

// InboxHandler 收件箱与事件查询处理器
type InboxHandler struct {
	inboxes *service.InboxService
	log     *zap.Logger
}

// NewInboxHandler 创建收件箱处理器
func NewInboxHandler(inboxes *service.InboxService, log *zap.Logger) *InboxHandler {
	return &InboxHandler{inboxes: inboxes, log: log}
}

type createInboxRequest struct {
	Slug               string `json:"slug"`
	Description        string `json:"description"`
	ForwardURL         string `json:"forward_url"`
	NotifyEmail        string `json:"notify_email"`
	EmailSubjectPrefix string `json:"email_subject_prefix"`
	SenderName         string `json:"sender_name"`
	TurnstileSecret    string `json:"turnstile_secret"`
}

type updateInboxRequest struct {
	Description        *string `json:"description"`
	ForwardURL         *string `json:"forward_url"`
	NotifyEmail        *string `json:"notify_email"`
	EmailSubjectPrefix *string `json:"email_subject_prefix"`
	SenderName         *string `json:"sender_name"`
	TurnstileSecret    *string `json:"turnstile_secret"`
	IsActive           *bool   `json:"is_active"`
}

// inboxResponse 收件箱视图，不暴露 Turnstile 密钥
type inboxResponse struct {
	*domain.Inbox
	HasTurnstile bool `json:"has_turnstile"`
}

func toInboxResponse(i *domain.Inbox) inboxResponse {
	return inboxResponse{Inbox: i, HasTurnstile: i.HasTurnstile()}
}

// ListInboxes GET /v1/hooks/inboxes
func (h *InboxHandler) ListInboxes(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}
	inboxes, total, err := h.inboxes.List(c.Request.Context(), page.Limit, page.Offset)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	items := make([]inboxResponse, 0, len(inboxes))
	for _, i := range inboxes {
		items = append(items, toInboxResponse(i))
	}
	Paginated(c, items, total, page)
}

// CreateInbox POST /v1/hooks/inboxes
func (h *InboxHandler) CreateInbox(c *gin.Context) {
	var req createInboxRequest
	if !bindJSON(c, &req) {
		return
	}

	inbox, err := h.inboxes.Create(c.Request.Context(), service.CreateInboxInput{
		Slug:               req.Slug,
		Description:        req.Description,
		ForwardURL:         req.ForwardURL,
		NotifyEmail:        req.NotifyEmail,
		EmailSubjectPrefix: req.EmailSubjectPrefix,
		SenderName:         req.SenderName,
		TurnstileSecret:    req.TurnstileSecret,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	Created(c, toInboxResponse(inbox))
}

// UpdateInbox PATCH /v1/hooks/inboxes/:slug
func (h *InboxHandler) UpdateInbox(c *gin.Context) {
	var req updateInboxRequest
	if !bindJSON(c, &req) {
		return
	}

	inbox, err := h.inboxes.Update(c.Request.Context(), c.Param("slug"), service.UpdateInboxInput{
		Description:        req.Description,
		ForwardURL:         req.ForwardURL,
		NotifyEmail:        req.NotifyEmail,
		EmailSubjectPrefix: req.EmailSubjectPrefix,
		SenderName:         req.SenderName,
		TurnstileSecret:    req.TurnstileSecret,
		IsActive:           req.IsActive,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	Success(c, toInboxResponse(inbox))
}

// DeleteInbox DELETE /v1/hooks/inboxes/:slug
func (h *InboxHandler) DeleteInbox(c *gin.Context) {
	if err := h.inboxes.Delete(c.Request.Context(), c.Param("slug")); err != nil {
		writeError(c, h.log, err)
		return
	}
	NoContent(c)
}

// ListEvents GET /v1/hooks/:slug/events，最新的在前
func (h *InboxHandler) ListEvents(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}
	events, total, err := h.inboxes.ListEvents(c.Request.Context(), c.Param("slug"), page.Limit, page.Offset)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if events == nil {
		events = []*domain.Event{}
	}
	Paginated(c, events, total, page)
}
