package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hookforms/backend/internal/auth"
	"hookforms/backend/internal/config"
	"hookforms/backend/internal/domain"
	"hookforms/backend/internal/health"
	"hookforms/backend/internal/middleware"
	"hookforms/backend/internal/monitoring"
	"hookforms/backend/internal/service"
	"hookforms/backend/internal/storage"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config          *config.Config
	ReceiveService  *service.ReceiveService
	InboxService    *service.InboxService
	ChannelService  *service.ChannelService
	ProviderService *service.ProviderService
	APIKeyService   *service.APIKeyService
	Guard           *auth.Guard
	Counter         storage.CounterStore
	Stream          StreamServer // 为 nil 时不注册实时事件流
	HealthChecker   *monitoring.HealthChecker
	Probes          *health.Probes
	Metrics         *monitoring.Metrics
	Logger          *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg := deps.Config

	router := gin.New()
	router.HandleMethodNotAllowed = true

	router.Use(middleware.Recovery(log, deps.Metrics))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.HTTPMetrics(deps.Metrics))
	router.Use(gincors.New(corsConfig(cfg.Security.AllowedOrigins)))
	router.Use(middleware.RateGovernor(deps.Counter, cfg.RateLimit, deps.Metrics, log))
	router.Use(middleware.BodySizeLimit(cfg.Security.MaxBodyBytes))

	handlerLog := log.Named("http")
	system := NewSystemHandler(cfg.AppName, deps.HealthChecker, deps.Probes, deps.Metrics)
	hooks := NewHookHandler(deps.ReceiveService, deps.InboxService, deps.Stream, cfg.Security.MaxBodyBytes, handlerLog)
	inboxes := NewInboxHandler(deps.InboxService, handlerLog)
	channels := NewChannelHandler(deps.ChannelService, deps.ProviderService, handlerLog)
	apiKeys := NewAPIKeyHandler(deps.APIKeyService, handlerLog)

	apiKeyAuth := middleware.NewAPIKeyAuth(deps.Guard, deps.Metrics, log)

	system.register(router)

	// 公开的 webhook 接收端点
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		router.Handle(method, "/hooks/:slug", hooks.Receive)
	}

	// V1 API，全部需要 X-API-Key
	v1 := router.Group("/v1")
	v1.Use(apiKeyAuth.RequireAPIKey())
	{
		// ========== API Key Routes ==========
		keyRoutes := v1.Group("/auth/keys")
		keyRoutes.Use(middleware.RequireScope(domain.ScopeAdmin))
		{
			keyRoutes.POST("", apiKeys.CreateAPIKey)
			keyRoutes.GET("", apiKeys.ListAPIKeys)
			keyRoutes.DELETE("/:id", apiKeys.RevokeAPIKey)
		}

		// ========== Webhook Routes ==========
		hookRoutes := v1.Group("/hooks")
		hookRoutes.Use(middleware.RequireScope(domain.ScopeWebhooks))
		{
			hookRoutes.GET("/inboxes", inboxes.ListInboxes)
			hookRoutes.POST("/inboxes", inboxes.CreateInbox)
			hookRoutes.PATCH("/inboxes/:slug", inboxes.UpdateInbox)
			hookRoutes.DELETE("/inboxes/:slug", inboxes.DeleteInbox)

			hookRoutes.POST("/inboxes/:slug/channels", channels.CreateChannel)
			hookRoutes.GET("/inboxes/:slug/channels", channels.ListChannels)
			hookRoutes.PATCH("/inboxes/:slug/channels/:id", channels.UpdateChannel)
			hookRoutes.DELETE("/inboxes/:slug/channels/:id", channels.DeleteChannel)

			hookRoutes.GET("/config/email-provider", channels.GetEmailProvider)
			hookRoutes.PUT("/config/email-provider", channels.PutEmailProvider)
			hookRoutes.DELETE("/config/email-provider", channels.DeleteEmailProvider)

			hookRoutes.GET("/:slug/events", inboxes.ListEvents)
			if deps.Stream != nil {
				hookRoutes.GET("/:slug/stream", hooks.Stream)
			}
		}
	}

	router.NoRoute(func(c *gin.Context) { NotFound(c, "Not found") })
	router.NoMethod(func(c *gin.Context) { Error(c, http.StatusMethodNotAllowed, "Method not allowed") })

	return router
}

// corsConfig 允许所有来源时不能携带凭证
func corsConfig(origins []string) gincors.Config {
	cc := gincors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", middleware.APIKeyHeader},
		ExposeHeaders: []string{
			"Content-Length",
			"X-RateLimit-Limit",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, origin := range origins {
		if origin == "*" {
			cc.AllowOrigins = nil
			cc.AllowAllOrigins = true
			cc.AllowCredentials = false
			break
		}
	}
	return cc
}
