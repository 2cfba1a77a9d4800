package httptransport

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hookforms/backend/internal/domain"
	"hookforms/backend/internal/service"
)

// APIKeyHandler API Key管理处理器
type APIKeyHandler struct {
	apiKeyService *service.APIKeyService
	log           *zap.Logger
}

// NewAPIKeyHandler 创建API Key处理器
func NewAPIKeyHandler(apiKeyService *service.APIKeyService, log *zap.Logger) *APIKeyHandler {
	return &APIKeyHandler{apiKeyService: apiKeyService, log: log}
}

// createAPIKeyRequest 创建API Key请求
type createAPIKeyRequest struct {
	Name   string   `json:"name"`   // 密钥名称，1-100 个字符
	Scopes []string `json:"scopes"` // 权限列表: webhooks, admin
}

// apiKeyResponse API Key响应，不包含哈希
type apiKeyResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Scopes     []string   `json:"scopes"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
}

// apiKeyCreatedResponse 创建后的响应，raw_key 只返回这一次
type apiKeyCreatedResponse struct {
	apiKeyResponse
	RawKey string `json:"raw_key"`
}

func toAPIKeyResponse(k *domain.APIKey) apiKeyResponse {
	scopes := k.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	return apiKeyResponse{
		ID:         k.ID,
		Name:       k.Name,
		Scopes:     scopes,
		IsActive:   k.IsActive,
		CreatedAt:  k.CreatedAt,
		LastUsedAt: k.LastUsedAt,
	}
}

// CreateAPIKey POST /v1/auth/keys
func (h *APIKeyHandler) CreateAPIKey(c *gin.Context) {
	var req createAPIKeyRequest
	if !bindJSON(c, &req) {
		return
	}

	key, raw, err := h.apiKeyService.CreateAPIKey(c.Request.Context(), req.Name, req.Scopes)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	Created(c, apiKeyCreatedResponse{apiKeyResponse: toAPIKeyResponse(key), RawKey: raw})
}

// ListAPIKeys GET /v1/auth/keys
func (h *APIKeyHandler) ListAPIKeys(c *gin.Context) {
	page, ok := bindPage(c)
	if !ok {
		return
	}

	keys, total, err := h.apiKeyService.ListAPIKeys(c.Request.Context(), page.Limit, page.Offset)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	items := make([]apiKeyResponse, 0, len(keys))
	for _, k := range keys {
		items = append(items, toAPIKeyResponse(k))
	}
	Paginated(c, items, total, page)
}

// RevokeAPIKey DELETE /v1/auth/keys/:id
func (h *APIKeyHandler) RevokeAPIKey(c *gin.Context) {
	if err := h.apiKeyService.RevokeAPIKey(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, h.log, err)
		return
	}
	NoContent(c)
}
