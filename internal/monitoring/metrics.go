package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 事件指标
	EventsReceived *prometheus.CounterVec
	EventsPurged   prometheus.Counter

	// 投递指标
	DeliveriesTotal   *prometheus.CounterVec
	DeliveryDuration  *prometheus.HistogramVec
	EmailsTotal       *prometheus.CounterVec
	EmailRateLimited  *prometheus.CounterVec
	ChallengeFailures *prometheus.CounterVec

	// 认证指标
	AuthFailures prometheus.Counter
	AuthLockouts prometheus.Counter

	// 实时推送
	StreamClients prometheus.Gauge

	// 系统指标
	SystemUptime prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 创建监控指标，注册到独立的注册表，可以多次创建互不影响
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookforms_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hookforms_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hookforms_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hookforms_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "endpoint"},
		),

		EventsReceived: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookforms_events_received_total",
				Help: "Total number of webhook events accepted",
			},
			[]string{"method", "body_kind"},
		),

		EventsPurged: f.NewCounter(
			prometheus.CounterOpts{
				Name: "hookforms_events_purged_total",
				Help: "Total number of events removed by retention",
			},
		),

		DeliveriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookforms_deliveries_total",
				Help: "Total number of channel deliveries by type and outcome",
			},
			[]string{"type", "outcome"},
		),

		DeliveryDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hookforms_delivery_duration_seconds",
				Help:    "Channel delivery duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"type"},
		),

		EmailsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookforms_emails_total",
				Help: "Total number of notification emails by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),

		EmailRateLimited: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookforms_email_rate_limited_total",
				Help: "Email batches skipped by the per-inbox email limit",
			},
			[]string{"inbox"},
		),

		ChallengeFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookforms_challenge_failures_total",
				Help: "Turnstile verification failures by reason",
			},
			[]string{"reason"},
		),

		AuthFailures: f.NewCounter(
			prometheus.CounterOpts{
				Name: "hookforms_auth_failures_total",
				Help: "Total number of failed API key authentications",
			},
		),

		AuthLockouts: f.NewCounter(
			prometheus.CounterOpts{
				Name: "hookforms_auth_lockouts_total",
				Help: "Authentications rejected because the client is locked out",
			},
		),

		StreamClients: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "hookforms_stream_clients",
				Help: "Number of connected live event stream clients",
			},
		),

		SystemUptime: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "hookforms_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),

		ErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookforms_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "hookforms_panics_total",
				Help: "Total number of recovered panics",
			},
		),

		RateLimitBlocks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookforms_rate_limit_blocks_total",
				Help: "Requests rejected by the rate governor",
			},
			[]string{"reason"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordEventReceived 记录接收到的事件
func (m *Metrics) RecordEventReceived(method, bodyKind string) {
	m.EventsReceived.WithLabelValues(method, bodyKind).Inc()
}

// RecordEventsPurged 记录保留策略清理的事件数
func (m *Metrics) RecordEventsPurged(n int64) {
	m.EventsPurged.Add(float64(n))
}

// RecordDelivery 记录一次渠道投递
func (m *Metrics) RecordDelivery(channelType, outcome string, duration time.Duration) {
	m.DeliveriesTotal.WithLabelValues(channelType, outcome).Inc()
	m.DeliveryDuration.WithLabelValues(channelType).Observe(duration.Seconds())
}

// RecordEmail 记录一封通知邮件
func (m *Metrics) RecordEmail(provider, outcome string) {
	m.EmailsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordEmailRateLimited 记录被邮件限流跳过的批次
func (m *Metrics) RecordEmailRateLimited(inbox string) {
	m.EmailRateLimited.WithLabelValues(inbox).Inc()
}

// RecordChallengeFailure 记录人机校验失败
func (m *Metrics) RecordChallengeFailure(reason string) {
	m.ChallengeFailures.WithLabelValues(reason).Inc()
}

// RecordAuthFailure 记录认证失败
func (m *Metrics) RecordAuthFailure() {
	m.AuthFailures.Inc()
}

// RecordAuthLockout 记录锁定拒绝
func (m *Metrics) RecordAuthLockout() {
	m.AuthLockouts.Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(reason string) {
	m.RateLimitBlocks.WithLabelValues(reason).Inc()
}

// StreamConnected 实时推送客户端连接数加一
func (m *Metrics) StreamConnected() { m.StreamClients.Inc() }

// StreamDisconnected 实时推送客户端连接数减一
func (m *Metrics) StreamDisconnected() { m.StreamClients.Dec() }

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	m.SystemUptime.Set(uptime.Seconds())
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
