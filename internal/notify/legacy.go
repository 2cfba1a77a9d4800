package notify

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"hookforms/backend/internal/channels"
	"hookforms/backend/internal/domain"
)

// legacyChannelID 旧版转发在结果中的渠道标识
const legacyChannelID = "forward_url"

// Legacy 处理没有配置任何渠道的收件箱：转发到 forward_url 并发送 notify_email。
// Discord 和 Slack 地址使用对应的格式化函数，其他地址按原请求方法转发 JSON。
func (d *Dispatcher) Legacy(ctx context.Context, inbox *domain.Inbox, method string, body *domain.Payload) Report {
	var report Report
	c := channels.NewContext(inbox, body)

	if inbox.ForwardURL != "" {
		kind := channels.DetectType(inbox.ForwardURL)
		req, err := legacyRequest(kind, inbox.ForwardURL, method, c)
		if err != nil {
			d.log.Error("forwarding failed", zap.String("inbox", inbox.Slug), zap.Error(err))
			report.Channels = append(report.Channels, ChannelResult{ChannelID: legacyChannelID, Type: kind, Err: err})
		} else {
			report.Channels = append(report.Channels, d.deliver(ctx, delivery{channelID: legacyChannelID, kind: kind, req: req}))
		}
	}

	recipients := inbox.NotifyRecipients()
	if len(recipients) == 0 {
		return report
	}
	if !d.allowEmail(ctx, legacyEmailRateKey(inbox.ID), inbox) {
		report.EmailRateLimited = true
		return report
	}
	if d.resolver == nil {
		return report
	}
	provider, err := d.resolver.Resolve(ctx, inbox.ID)
	if err != nil {
		d.log.Error("email notification failed", zap.String("inbox", inbox.Slug), zap.Error(err))
		return report
	}
	if provider == nil {
		d.log.Debug("no email provider configured", zap.String("inbox", inbox.Slug))
		return report
	}
	report.Emails = d.sendEmails(ctx, provider, recipients, c)
	return report
}

func legacyRequest(kind domain.ChannelType, url, method string, c channels.Context) (channels.Request, error) {
	cfg := map[string]any{"url": url}
	switch kind {
	case domain.ChannelDiscord:
		return safeFormat(channels.FormatDiscord, cfg, c)
	case domain.ChannelSlack:
		return safeFormat(channels.FormatSlack, cfg, c)
	}

	body, err := c.Body.MarshalJSON()
	if err != nil {
		return channels.Request{}, err
	}
	if method == "" {
		method = http.MethodPost
	}
	return channels.Request{
		Method: method,
		URL:    url,
		Headers: map[string]string{
			"Content-Type":     "application/json",
			"X-Forwarded-From": c.Origin(),
		},
		Body: body,
	}, nil
}
