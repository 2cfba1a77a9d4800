package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// SMTP 通过任意 SMTP 服务器发送邮件
type SMTP struct {
	Host      string
	Port      int
	Username  string
	Password  string
	UseTLS    bool // 为 true 时必须成功 STARTTLS
	FromEmail string
	Timeout   time.Duration // 整次发送的上限，为 0 时使用 DefaultAPITimeout

	tlsConfig *tls.Config
}

// NewSMTPFromConfig 从服务商配置构造 SMTP 发送通道，use_tls 默认为 true
func NewSMTPFromConfig(cfg map[string]any, timeout time.Duration) (*SMTP, error) {
	host, err := requireString(cfg, "host")
	if err != nil {
		return nil, err
	}
	from, err := requireString(cfg, "from_email")
	if err != nil {
		return nil, err
	}
	port := configInt(cfg, "port", 0)
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: invalid port", ErrInvalidProvider)
	}
	return &SMTP{
		Host:      host,
		Port:      port,
		Username:  optionalString(cfg, "username"),
		Password:  optionalString(cfg, "password"),
		UseTLS:    configBool(cfg, "use_tls", true),
		FromEmail: from,
		Timeout:   timeout,
	}, nil
}

// Type 服务商类型
func (s *SMTP) Type() string { return "smtp" }

// Send 发送一封 HTML 邮件。465 端口使用隐式 TLS；
// 否则 UseTLS 时强制 STARTTLS，不启用时若服务器支持也会升级。
// 连接在 ctx 结束或 Timeout 到期时关闭，两者取先到者。
func (s *SMTP) Send(ctx context.Context, to, subject, html, senderName string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	msg := &Message{FromName: senderName, From: s.FromEmail, To: to, Subject: subject, HTML: html}
	raw, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	ctx, cancel := context.WithTimeout(ctx, orDefault(s.Timeout))
	defer cancel()

	c, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: connect %s:%d: %v", ErrTransport, s.Host, s.Port, err)
	}
	defer c.Close()

	if s.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.Username, s.Password)); err != nil {
			return fmt.Errorf("%w: smtp auth: %v", ErrTransport, err)
		}
	}
	if err := c.SendMail(s.FromEmail, []string{to}, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("%w: smtp send: %v", ErrTransport, err)
	}
	if err := c.Quit(); err != nil {
		return fmt.Errorf("%w: smtp quit: %v", ErrTransport, err)
	}
	return nil
}

// dial 建立连接并按端口和 UseTLS 选择加密方式
func (s *SMTP) dial(ctx context.Context) (*smtp.Client, error) {
	tlsCfg := s.tlsConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{ServerName: s.Host, MinVersion: tls.VersionTLS12}
	}

	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	switch {
	case s.Port == 465:
		return s.client(ctx, tls.Client(conn, tlsCfg)), nil
	case s.UseTLS:
		return s.startTLS(ctx, conn, tlsCfg)
	}

	// 先用明文连接探测 STARTTLS，服务器支持时重新连接并升级
	c := s.client(ctx, conn)
	if ok, _ := c.Extension("STARTTLS"); !ok {
		return c, nil
	}
	c.Close()

	conn, err = s.connect(ctx)
	if err != nil {
		return nil, err
	}
	return s.startTLS(ctx, conn, tlsCfg)
}

func (s *SMTP) connect(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// 客户端每条命令都会重设连接期限，ctx 结束时直接关闭连接
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	return &boundConn{Conn: conn, stop: stop}, nil
}

func (s *SMTP) startTLS(ctx context.Context, conn net.Conn, tlsCfg *tls.Config) (*smtp.Client, error) {
	c, err := smtp.NewClientStartTLS(conn, tlsCfg)
	if err != nil {
		return nil, err
	}
	s.limit(ctx, c)
	return c, nil
}

func (s *SMTP) client(ctx context.Context, conn net.Conn) *smtp.Client {
	c := smtp.NewClient(conn)
	s.limit(ctx, c)
	return c
}

// limit 把单条命令和 DATA 的超时收紧到剩余时间以内
func (s *SMTP) limit(ctx context.Context, c *smtp.Client) {
	timeout := orDefault(s.Timeout)
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	c.CommandTimeout = timeout
	c.SubmissionTimeout = timeout
}

// boundConn 关闭时解除与 ctx 的绑定
type boundConn struct {
	net.Conn
	stop func() bool
}

func (c *boundConn) Close() error {
	c.stop()
	return c.Conn.Close()
}
