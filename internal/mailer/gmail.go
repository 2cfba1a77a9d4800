package mailer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const gmailSendEndpoint = "https://gmail.googleapis.com/gmail/v1/users/me/messages/send"

// Gmail 通过 Gmail REST API 发送原始 RFC 5322 邮件
type Gmail struct {
	senderEmail string
	tokens      *TokenCache
	endpoint    string
	timeout     time.Duration
}

// NewGmail 创建 Gmail 发送通道
func NewGmail(senderEmail string, tokens *TokenCache, timeout time.Duration) *Gmail {
	return &Gmail{
		senderEmail: senderEmail,
		tokens:      tokens,
		endpoint:    gmailSendEndpoint,
		timeout:     orDefault(timeout),
	}
}

// GmailSettings 存储配置中的 Gmail 字段
type GmailSettings struct {
	CredentialsPath string
	TokenPath       string
	SenderEmail     string
}

// ParseGmailConfig 解析并校验存储的 Gmail 配置，凭据路径必须位于可信目录内
func ParseGmailConfig(cfg map[string]any, trustedDir string) (GmailSettings, error) {
	var s GmailSettings
	var err error
	if s.CredentialsPath, err = requireString(cfg, "credentials_path"); err != nil {
		return s, err
	}
	if s.TokenPath, err = requireString(cfg, "token_path"); err != nil {
		return s, err
	}
	if s.SenderEmail, err = requireString(cfg, "sender_email"); err != nil {
		return s, err
	}
	for _, p := range []string{s.CredentialsPath, s.TokenPath} {
		if err := CheckTrustedPath(trustedDir, p); err != nil {
			return s, err
		}
	}
	return s, nil
}

// Type 服务商类型
func (g *Gmail) Type() string { return "gmail" }

// Send 发送一封 HTML 邮件
func (g *Gmail) Send(ctx context.Context, to, subject, html, senderName string) error {
	client, err := g.tokens.Client(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	msg := &Message{FromName: senderName, From: g.senderEmail, To: to, Subject: subject, HTML: html}
	raw, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	body, err := json.Marshal(map[string]string{"raw": base64.URLEncoding.EncodeToString(raw)})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: Gmail request: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: Gmail send failed: %d %s", ErrTransport, resp.StatusCode, truncateBody(respBody))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// tokenFileExists 旧版配置仅在令牌文件存在时启用
func tokenFileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
