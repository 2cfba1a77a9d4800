package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"hookforms/backend/internal/monitoring"
)

// 探针超时与 goroutine 上限
const (
	probeTimeout     = 3 * time.Second
	maxGoroutineHint = 10000
)

// Probes 基于 healthcheck 的存活与就绪探针，供 /health/live 和 /health/ready 使用
type Probes struct {
	health healthcheck.Handler
	logger *zap.Logger
}

// NewProbes 创建探针处理器。deps 中的每个依赖都作为就绪检查项注册。
func NewProbes(deps map[string]monitoring.Pinger, logger *zap.Logger) *Probes {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Probes{
		health: healthcheck.NewHandler(),
		logger: logger.Named("probes"),
	}

	p.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutineHint))
	for name, dep := range deps {
		p.health.AddReadinessCheck(name, healthcheck.Timeout(p.pingCheck(name, dep), probeTimeout))
	}
	return p
}

func (p *Probes) pingCheck(name string, dep monitoring.Pinger) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		if err := dep.Ping(ctx); err != nil {
			p.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			return err
		}
		return nil
	}
}

// LiveHandler 存活探针
func (p *Probes) LiveHandler() http.Handler {
	return http.HandlerFunc(p.health.LiveEndpoint)
}

// ReadyHandler 就绪探针，任一依赖不可用时返回 503
func (p *Probes) ReadyHandler() http.Handler {
	return http.HandlerFunc(p.health.ReadyEndpoint)
}
