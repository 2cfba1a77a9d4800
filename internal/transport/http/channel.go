package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hookforms/backend/internal/domain"
	"hookforms/backend/internal/service"
)

// ChannelHandler 通知渠道与邮件服务商配置处理器
type ChannelHandler struct {
	channels  *service.ChannelService
	providers *service.ProviderService
	log       *zap.Logger
}

// NewChannelHandler 创建渠道处理器
func NewChannelHandler(channels *service.ChannelService, providers *service.ProviderService, log *zap.Logger) *ChannelHandler {
	return &ChannelHandler{channels: channels, providers: providers, log: log}
}

type createChannelRequest struct {
	Type   string         `json:"type" binding:"required"`
	Label  string         `json:"label"`
	Config map[string]any `json:"config" binding:"required"`
}

type updateChannelRequest struct {
	Type     *string        `json:"type"`
	Label    *string        `json:"label"`
	Config   map[string]any `json:"config"`
	IsActive *bool          `json:"is_active"`
}

type putProviderRequest struct {
	Inbox  string         `json:"inbox"` // 收件箱 slug，留空表示全局
	Type   string         `json:"type" binding:"required"`
	Config map[string]any `json:"config" binding:"required"`
}

// CreateChannel POST /v1/hooks/inboxes/:slug/channels
func (h *ChannelHandler) CreateChannel(c *gin.Context) {
	var req createChannelRequest
	if !bindJSON(c, &req) {
		return
	}
	ch, err := h.channels.Create(c.Request.Context(), c.Param("slug"), service.CreateChannelInput{
		Type:   req.Type,
		Label:  req.Label,
		Config: req.Config,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	Created(c, ch)
}

// ListChannels GET /v1/hooks/inboxes/:slug/channels
func (h *ChannelHandler) ListChannels(c *gin.Context) {
	chs, err := h.channels.List(c.Request.Context(), c.Param("slug"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if chs == nil {
		chs = []*domain.Channel{}
	}
	Success(c, chs)
}

// UpdateChannel PATCH /v1/hooks/inboxes/:slug/channels/:id
func (h *ChannelHandler) UpdateChannel(c *gin.Context) {
	var req updateChannelRequest
	if !bindJSON(c, &req) {
		return
	}
	ch, err := h.channels.Update(c.Request.Context(), c.Param("slug"), c.Param("id"), service.UpdateChannelInput{
		Type:     req.Type,
		Label:    req.Label,
		Config:   req.Config,
		IsActive: req.IsActive,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	Success(c, ch)
}

// DeleteChannel DELETE /v1/hooks/inboxes/:slug/channels/:id
func (h *ChannelHandler) DeleteChannel(c *gin.Context) {
	if err := h.channels.Delete(c.Request.Context(), c.Param("slug"), c.Param("id")); err != nil {
		writeError(c, h.log, err)
		return
	}
	NoContent(c)
}

// GetEmailProvider GET /v1/hooks/config/email-provider?inbox=slug
// 没有配置时 data 为 null，旧版 Gmail 可用时 meta.fallback 为 "env_gmail"。
func (h *ChannelHandler) GetEmailProvider(c *gin.Context) {
	p, fallback, err := h.providers.Get(c.Request.Context(), c.Query("inbox"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	if p != nil {
		Success(c, p)
		return
	}

	var fb *string
	if fallback != "" {
		fb = &fallback
	}
	c.JSON(http.StatusOK, Response{Data: nil, Meta: gin.H{"fallback": fb}})
}

// PutEmailProvider PUT /v1/hooks/config/email-provider
func (h *ChannelHandler) PutEmailProvider(c *gin.Context) {
	var req putProviderRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.providers.Put(c.Request.Context(), req.Inbox, req.Type, req.Config)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	Success(c, p)
}

// DeleteEmailProvider DELETE /v1/hooks/config/email-provider?inbox=slug
func (h *ChannelHandler) DeleteEmailProvider(c *gin.Context) {
	if err := h.providers.Delete(c.Request.Context(), c.Query("inbox")); err != nil {
		writeError(c, h.log, err)
		return
	}
	NoContent(c)
}
