package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	resendEndpoint   = "https://api.resend.com/emails"
	sendGridEndpoint = "https://api.sendgrid.com/v3/mail/send"

	// DefaultAPITimeout 第三方邮件 API 的请求超时
	DefaultAPITimeout = 15 * time.Second
)

// Resend 通过 Resend REST API 发送邮件
type Resend struct {
	apiKey    string
	fromEmail string
	endpoint  string
	client    *http.Client
}

// NewResend 创建 Resend 发送通道
func NewResend(apiKey, fromEmail string, timeout time.Duration) *Resend {
	return &Resend{
		apiKey:    apiKey,
		fromEmail: fromEmail,
		endpoint:  resendEndpoint,
		client:    &http.Client{Timeout: orDefault(timeout)},
	}
}

// Type 服务商类型
func (r *Resend) Type() string { return "resend" }

// Send 发送一封 HTML 邮件
func (r *Resend) Send(ctx context.Context, to, subject, html, senderName string) error {
	payload := map[string]any{
		"from":    fmt.Sprintf("%s <%s>", displayName(senderName), r.fromEmail),
		"to":      []string{to},
		"subject": subject,
		"html":    html,
	}
	return postJSON(ctx, r.client, r.endpoint, r.apiKey, payload, "Resend")
}

// SendGrid 通过 SendGrid v3 Mail Send API 发送邮件
type SendGrid struct {
	apiKey    string
	fromEmail string
	endpoint  string
	client    *http.Client
}

// NewSendGrid 创建 SendGrid 发送通道
func NewSendGrid(apiKey, fromEmail string, timeout time.Duration) *SendGrid {
	return &SendGrid{
		apiKey:    apiKey,
		fromEmail: fromEmail,
		endpoint:  sendGridEndpoint,
		client:    &http.Client{Timeout: orDefault(timeout)},
	}
}

// Type 服务商类型
func (s *SendGrid) Type() string { return "sendgrid" }

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridMail struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
}

// Send 发送一封 HTML 邮件，成功时 SendGrid 返回 202
func (s *SendGrid) Send(ctx context.Context, to, subject, html, senderName string) error {
	payload := sendGridMail{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: to}}}},
		From:             sendGridAddress{Email: s.fromEmail, Name: displayName(senderName)},
		Subject:          subject,
		Content:          []sendGridContent{{Type: "text/html", Value: html}},
	}
	return postJSON(ctx, s.client, s.endpoint, s.apiKey, payload, "SendGrid")
}

func postJSON(ctx context.Context, client *http.Client, endpoint, apiKey string, payload any, name string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode %s request: %v", ErrTransport, name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s request: %v", ErrTransport, name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s send failed: %d %s", ErrTransport, name, resp.StatusCode, truncateBody(respBody))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func orDefault(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultAPITimeout
	}
	return timeout
}
