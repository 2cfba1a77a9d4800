// Package notify 把一次 webhook 事件扇出到收件箱配置的所有通知渠道。
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"hookforms/backend/internal/channels"
	"hookforms/backend/internal/config"
	"hookforms/backend/internal/domain"
	"hookforms/backend/internal/mailer"
	"hookforms/backend/internal/monitoring"
	"hookforms/backend/internal/storage"
)

var (
	// ErrDeliveryFailed 目标返回了错误状态码
	ErrDeliveryFailed = domain.ErrDeliveryFailed
	// ErrUnknownChannel 渠道类型无法识别
	ErrUnknownChannel = errors.New("unknown channel type")
)

// ChannelResult 单个渠道的投递结果
type ChannelResult struct {
	ChannelID string
	Type      domain.ChannelType
	Status    int
	Err       error
}

// EmailResult 单个收件人的发送结果
type EmailResult struct {
	To  string
	Err error
}

// Report 一次分发的汇总结果
type Report struct {
	Channels         []ChannelResult
	Emails           []EmailResult
	EmailRateLimited bool
}

// Failed 失败的投递数量
func (r Report) Failed() int {
	n := 0
	for _, c := range r.Channels {
		if c.Err != nil {
			n++
		}
	}
	for _, e := range r.Emails {
		if e.Err != nil {
			n++
		}
	}
	return n
}

// ProviderResolver 为收件箱解析邮件发送通道
type ProviderResolver interface {
	Resolve(ctx context.Context, inboxID string) (mailer.Provider, error)
}

// Dispatcher 通知分发器
type Dispatcher struct {
	client   *http.Client
	counter  storage.CounterStore
	resolver ProviderResolver
	metrics  *monitoring.Metrics
	limiter  *rate.Limiter
	lookup   func(domain.ChannelType) (channels.Formatter, bool)
	cfg      config.DispatchConfig
	log      *zap.Logger
}

// NewDispatcher 创建分发器。client 应为 SSRF 安全客户端，metrics 可以为 nil。
func NewDispatcher(
	client *http.Client,
	counter storage.CounterStore,
	resolver ProviderResolver,
	metrics *monitoring.Metrics,
	cfg config.DispatchConfig,
	log *zap.Logger,
) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = 10 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	if cfg.EmailLimit <= 0 {
		cfg.EmailLimit = 10
	}
	if cfg.EmailWindow <= 0 {
		cfg.EmailWindow = 10 * time.Minute
	}

	d := &Dispatcher{
		client:   client,
		counter:  counter,
		resolver: resolver,
		metrics:  metrics,
		lookup:   channels.Lookup,
		cfg:      cfg,
		log:      log.Named("notify"),
	}
	if cfg.OutboundRPS > 0 {
		burst := cfg.OutboundBurst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.OutboundRPS), burst)
	}
	return d
}

type delivery struct {
	channelID string
	kind      domain.ChannelType
	req       channels.Request
}

// Dispatch 向所有启用的渠道投递通知。
// 各渠道并发投递，互不影响；邮件渠道的收件人汇总后在渠道投递完成后统一发送。
func (d *Dispatcher) Dispatch(ctx context.Context, inbox *domain.Inbox, chs []*domain.Channel, body *domain.Payload, provider mailer.Provider) Report {
	c := channels.NewContext(inbox, body)

	var (
		report     Report
		pending    []delivery
		recipients []string
	)
	for _, ch := range chs {
		if !ch.IsActive {
			continue
		}
		kind := channels.EffectiveType(ch)
		if kind == domain.ChannelEmail {
			recipients = append(recipients, channels.Recipients(ch.Config)...)
			continue
		}

		format, ok := d.lookup(kind)
		if !ok {
			d.log.Warn("unknown channel type", zap.String("channel_id", ch.ID), zap.String("type", string(kind)))
			report.Channels = append(report.Channels, ChannelResult{ChannelID: ch.ID, Type: kind, Err: ErrUnknownChannel})
			continue
		}
		req, err := safeFormat(format, ch.Config, c)
		if err != nil {
			d.log.Error("failed to prepare notification",
				zap.String("channel_id", ch.ID),
				zap.String("type", string(kind)),
				zap.Error(err),
			)
			report.Channels = append(report.Channels, ChannelResult{ChannelID: ch.ID, Type: kind, Err: err})
			continue
		}
		pending = append(pending, delivery{channelID: ch.ID, kind: kind, req: req})
	}

	report.Channels = append(report.Channels, d.deliverAll(ctx, pending)...)

	if len(recipients) > 0 && provider != nil {
		if !d.allowEmail(ctx, emailRateKey(inbox.ID), inbox) {
			report.EmailRateLimited = true
			return report
		}
		report.Emails = d.sendEmails(ctx, provider, recipients, c)
	}
	return report
}

// safeFormat 格式化函数的 panic 只影响当前渠道
func safeFormat(format channels.Formatter, cfg map[string]any, c channels.Context) (req channels.Request, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("formatter panic: %v", r)
		}
	}()
	return format(cfg, c)
}

func (d *Dispatcher) deliverAll(ctx context.Context, pending []delivery) []ChannelResult {
	if len(pending) == 0 {
		return nil
	}
	results := make([]ChannelResult, len(pending))
	g := new(errgroup.Group)
	g.SetLimit(d.cfg.Concurrency)
	for i, p := range pending {
		i, p := i, p
		g.Go(func() error {
			results[i] = d.deliver(ctx, p)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// deliver 执行一次出站请求，错误只记录在结果中
func (d *Dispatcher) deliver(ctx context.Context, p delivery) (res ChannelResult) {
	res = ChannelResult{ChannelID: p.channelID, Type: p.kind}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("delivery panic: %v", r)
		}
		outcome := "success"
		if res.Err != nil {
			outcome = "failure"
		}
		if d.metrics != nil {
			d.metrics.RecordDelivery(string(p.kind), outcome, time.Since(start))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.cfg.ChannelTimeout)
	defer cancel()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			res.Err = fmt.Errorf("outbound rate limit: %w", err)
			return res
		}
	}

	req, err := http.NewRequestWithContext(ctx, p.req.Method, p.req.URL, bytes.NewReader(p.req.Body))
	if err != nil {
		res.Err = err
		d.log.Error("failed to build notification request", zap.String("channel_id", p.channelID), zap.Error(err))
		return res
	}
	for k, v := range p.req.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		res.Err = err
		d.log.Error("failed to send notification",
			zap.String("channel_id", p.channelID),
			zap.String("type", string(p.kind)),
			zap.Error(err),
		)
		return res
	}
	defer resp.Body.Close()

	res.Status = resp.StatusCode
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		res.Err = fmt.Errorf("%w: status %d", ErrDeliveryFailed, resp.StatusCode)
		d.log.Warn("channel returned error status",
			zap.String("channel_id", p.channelID),
			zap.String("type", string(p.kind)),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(snippet)),
		)
		return res
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	d.log.Debug("notification sent", zap.String("channel_id", p.channelID), zap.String("type", string(p.kind)))
	return res
}

func emailRateKey(inboxID string) string       { return "channel_email_rate:" + inboxID }
func legacyEmailRateKey(inboxID string) string { return "webhook_email_rate:" + inboxID }

// allowEmail 每个收件箱在窗口内最多发送 EmailLimit 批邮件。
// 计数存储不可用时放行。
func (d *Dispatcher) allowEmail(ctx context.Context, key string, inbox *domain.Inbox) bool {
	n, err := d.counter.IncrWithExpiry(ctx, key, d.cfg.EmailWindow)
	if err != nil {
		d.log.Warn("email rate limiter unavailable", zap.String("inbox", inbox.Slug), zap.Error(err))
		return true
	}
	if n > d.cfg.EmailLimit {
		d.log.Warn("email rate limit hit", zap.String("inbox", inbox.Slug), zap.Int64("count", n))
		if d.metrics != nil {
			d.metrics.RecordEmailRateLimited(inbox.Slug)
		}
		return false
	}
	return true
}

// sendEmails 每个收件人单独发送，失败互不影响
func (d *Dispatcher) sendEmails(ctx context.Context, provider mailer.Provider, recipients []string, c channels.Context) []EmailResult {
	subject := EmailSubject(c)
	html, err := RenderEmail(c)
	if err != nil {
		d.log.Error("failed to render notification email", zap.String("inbox", c.Slug), zap.Error(err))
		out := make([]EmailResult, len(recipients))
		for i, to := range recipients {
			out[i] = EmailResult{To: to, Err: err}
		}
		return out
	}

	results := make([]EmailResult, len(recipients))
	g := new(errgroup.Group)
	g.SetLimit(d.cfg.Concurrency)
	for i, to := range recipients {
		i, to := i, to
		g.Go(func() error {
			results[i] = d.sendEmail(ctx, provider, to, subject, html, c.SenderName)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) sendEmail(ctx context.Context, provider mailer.Provider, to, subject, html, senderName string) (res EmailResult) {
	res.To = to
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("email panic: %v", r)
		}
		outcome := "success"
		if res.Err != nil {
			outcome = "failure"
		}
		if d.metrics != nil {
			d.metrics.RecordEmail(provider.Type(), outcome)
		}
	}()

	if err := provider.Send(ctx, to, subject, html, senderName); err != nil {
		res.Err = err
		d.log.Error("email send failed", zap.String("to", to), zap.String("provider", provider.Type()), zap.Error(err))
		return res
	}
	d.log.Info("email sent", zap.String("to", to), zap.String("provider", provider.Type()))
	return res
}
