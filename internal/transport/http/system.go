package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"hookforms/backend/internal/health"
	"hookforms/backend/internal/monitoring"
)

// APIVersion 对外公布的接口版本
const APIVersion = "0.1.0"

// SystemHandler 根路径、健康检查与指标端点
type SystemHandler struct {
	name    string
	checker *monitoring.HealthChecker
	probes  *health.Probes
	metrics *monitoring.Metrics
}

// NewSystemHandler 创建系统处理器
func NewSystemHandler(name string, checker *monitoring.HealthChecker, probes *health.Probes, metrics *monitoring.Metrics) *SystemHandler {
	return &SystemHandler{name: name, checker: checker, probes: probes, metrics: metrics}
}

// Root GET /
func (h *SystemHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"name": h.name, "status": "ok", "version": APIVersion})
}

// Health GET /health。依赖不可用时仍返回 200，状态为 degraded。
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.checker.CheckHealth(c.Request.Context()))
}

func (h *SystemHandler) register(r *gin.Engine) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	if h.probes != nil {
		r.GET("/health/live", gin.WrapH(h.probes.LiveHandler()))
		r.GET("/health/ready", gin.WrapH(h.probes.ReadyHandler()))
	}
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.HTTPHandler()))
	}
}
