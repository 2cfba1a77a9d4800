package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// HealthStatus 健康状态
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusDegraded HealthStatus = "degraded"
)

// 单项检查结果
const (
	CheckOK          = "ok"
	CheckUnavailable = "unavailable"
)

// Pinger 可探测连通性的依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc 把函数适配为 Pinger
type PingFunc func(ctx context.Context) error

// Ping 调用函数本身
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// HealthReport 健康报告
type HealthReport struct {
	Status    HealthStatus      `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks"`
}

// HealthChecker 检查数据库和计数存储，任一不可用时报告 degraded
type HealthChecker struct {
	checks    map[string]Pinger
	order     []string
	timeout   time.Duration
	version   string
	startTime time.Time
	logger    *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(version string, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthChecker{
		checks:    make(map[string]Pinger),
		timeout:   3 * time.Second,
		version:   version,
		startTime: time.Now(),
		logger:    logger.Named("health"),
	}
}

// AddCheck 注册一项依赖检查
func (hc *HealthChecker) AddCheck(name string, p Pinger) {
	if _, exists := hc.checks[name]; !exists {
		hc.order = append(hc.order, name)
	}
	hc.checks[name] = p
}

// CheckHealth 执行全部检查
func (hc *HealthChecker) CheckHealth(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   hc.version,
		Checks:    make(map[string]string, len(hc.order)),
	}

	for _, name := range hc.order {
		cctx, cancel := context.WithTimeout(ctx, hc.timeout)
		err := hc.checks[name].Ping(cctx)
		cancel()

		if err != nil {
			hc.logger.Warn("dependency unavailable", zap.String("check", name), zap.Error(err))
			report.Checks[name] = CheckUnavailable
			report.Status = HealthStatusDegraded
			continue
		}
		report.Checks[name] = CheckOK
	}
	return report
}

// IsHealthy 检查系统是否健康
func (hc *HealthChecker) IsHealthy(ctx context.Context) bool {
	return hc.CheckHealth(ctx).Status == HealthStatusHealthy
}

// GetUptime 获取系统运行时间
func (hc *HealthChecker) GetUptime() time.Duration {
	return time.Since(hc.startTime)
}

// StartPeriodicHealthCheck 启动定期健康检查，状态变化时记录日志
func (hc *HealthChecker) StartPeriodicHealthCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := HealthStatusHealthy
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := hc.CheckHealth(ctx)
			if report.Status == last {
				continue
			}
			if report.Status == HealthStatusDegraded {
				hc.logger.Warn("system health degraded",
					zap.Any("checks", report.Checks),
					zap.Duration("uptime", hc.GetUptime()))
			} else {
				hc.logger.Info("system health recovered", zap.Duration("uptime", hc.GetUptime()))
			}
			last = report.Status
		}
	}
}
