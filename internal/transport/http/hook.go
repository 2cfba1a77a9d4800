package httptransport

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hookforms/backend/internal/auth"
	"hookforms/backend/internal/domain"
	"hookforms/backend/internal/middleware"
	"hookforms/backend/internal/service"
)

// StreamServer 把请求升级为实时事件流，*websocket.Hub 满足该接口
type StreamServer interface {
	Serve(c *gin.Context, inbox *domain.Inbox)
}

// HookHandler 公开的 webhook 接收端点与实时事件流
type HookHandler struct {
	receiver *service.ReceiveService
	inboxes  *service.InboxService
	stream   StreamServer
	maxBody  int64
	log      *zap.Logger
}

// NewHookHandler 创建接收处理器，stream 为 nil 时不提供实时事件流。
// maxBody 与 BodySizeLimit 中间件使用同一配置，只用于生成 413 提示。
func NewHookHandler(receiver *service.ReceiveService, inboxes *service.InboxService, stream StreamServer, maxBody int64, log *zap.Logger) *HookHandler {
	return &HookHandler{receiver: receiver, inboxes: inboxes, stream: stream, maxBody: maxBody, log: log}
}

type receivedResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id"`
}

// Receive ANY /hooks/:slug
func (h *HookHandler) Receive(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(c, http.StatusRequestEntityTooLarge, middleware.BodyLimitMessage(h.maxBody))
			return
		}
		BadRequest(c, MsgInvalidBody)
		return
	}

	ev, err := h.receiver.Receive(c.Request.Context(), service.InboundRequest{
		Slug:        c.Param("slug"),
		Method:      c.Request.Method,
		ContentType: c.GetHeader("Content-Type"),
		Body:        raw,
		Headers:     flattenHeaders(c.Request.Header),
		Query:       flattenQuery(c),
		SourceIP:    auth.ClientIP(c.Request),
		ChallengeIP: c.GetHeader("CF-Connecting-IP"),
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, receivedResponse{Status: "received", EventID: ev.ID})
}

// Stream GET /v1/hooks/:slug/stream
func (h *HookHandler) Stream(c *gin.Context) {
	inbox, err := h.inboxes.Get(c.Request.Context(), c.Param("slug"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	h.stream.Serve(c, inbox)
}

// flattenHeaders 请求头名称转为小写，同名头只保留第一个值
func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for name, values := range header {
		if len(values) == 0 {
			continue
		}
		out[strings.ToLower(name)] = values[0]
	}
	return out
}

// flattenQuery 查询参数同名时取最后一个值
func flattenQuery(c *gin.Context) map[string]string {
	query := c.Request.URL.Query()
	out := make(map[string]string, len(query))
	for name, values := range query {
		if len(values) == 0 {
			continue
		}
		out[name] = values[len(values)-1]
	}
	return out
}
