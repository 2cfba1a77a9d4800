package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"hookforms/backend/internal/domain"
)

// MaxRedirects 出站请求最多跟随的重定向次数
const MaxRedirects = 10

// DefaultBlockedNetworks 禁止访问的内网与保留地址段
var DefaultBlockedNetworks = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// DefaultBlockedHostnames 部署环境中的内部服务名
var DefaultBlockedHostnames = []string{
	"localhost", "postgres", "redis", "api", "worker",
	"cloudflared", "nginx", "metadata", "metadata.google.internal",
}

// Resolver 域名解析接口，*net.Resolver 满足该接口
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard 校验出站目标地址
type Guard struct {
	resolver  Resolver
	networks  []netip.Prefix
	hostnames map[string]struct{}
}

// Option Guard 配置项
type Option func(*Guard)

// WithResolver 替换域名解析器
func WithResolver(r Resolver) Option {
	return func(g *Guard) { g.resolver = r }
}

// WithBlockedNetworks 替换禁止访问的地址段
func WithBlockedNetworks(prefixes ...netip.Prefix) Option {
	return func(g *Guard) { g.networks = prefixes }
}

// NewGuard 创建出站地址校验器
func NewGuard(opts ...Option) *Guard {
	g := &Guard{
		resolver:  net.DefaultResolver,
		networks:  DefaultBlockedNetworks,
		hostnames: make(map[string]struct{}, len(DefaultBlockedHostnames)),
	}
	for _, h := range DefaultBlockedHostnames {
		g.hostnames[h] = struct{}{}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var defaultGuard = NewGuard()

// IsSafeURL 使用默认解析器校验 URL，返回是否安全及拒绝原因
func IsSafeURL(ctx context.Context, rawURL string) (bool, string) {
	return defaultGuard.IsSafeURL(ctx, rawURL)
}

// IsSafeURL 校验 URL 的协议、主机名和解析结果
func (g *Guard) IsSafeURL(ctx context.Context, rawURL string) (bool, string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, "Invalid URL"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false, fmt.Sprintf("Scheme '%s' not allowed. Use http or https.", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return false, "URL has no hostname"
	}
	if g.hostnameBlocked(host) {
		return false, fmt.Sprintf("Hostname '%s' is not allowed", host)
	}

	addrs, err := g.resolve(ctx, host)
	if err != nil {
		return false, "Cannot resolve hostname"
	}
	for _, addr := range addrs {
		if g.IsBlockedAddr(addr) {
			return false, "URL resolves to private/reserved IP address"
		}
	}
	return true, ""
}

// CheckHost 校验主机名及其解析出的全部地址
func (g *Guard) CheckHost(ctx context.Context, host string) error {
	if host == "" {
		return nil
	}
	if g.hostnameBlocked(host) {
		return fmt.Errorf("%w: blocked hostname %s", domain.ErrUnsafeDestination, host)
	}
	addrs, err := g.resolve(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve hostname %s", domain.ErrUnsafeDestination, host)
	}
	for _, addr := range addrs {
		if g.IsBlockedAddr(addr) {
			return fmt.Errorf("%w: DNS resolved to blocked IP for %s", domain.ErrUnsafeDestination, host)
		}
	}
	return nil
}

// IsBlockedAddr 地址是否落在禁止的网段内，IPv4 映射地址先还原为 IPv4
func (g *Guard) IsBlockedAddr(addr netip.Addr) bool {
	if !addr.IsValid() {
		return true
	}
	addr = addr.Unmap()
	for _, p := range g.networks {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (g *Guard) hostnameBlocked(host string) bool {
	_, ok := g.hostnames[strings.ToLower(strings.TrimSuffix(host, "."))]
	return ok
}

func (g *Guard) resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}, nil
	}
	ipAddrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ipAddrs) == 0 {
		return nil, errors.New("no addresses")
	}
	out := make([]netip.Addr, 0, len(ipAddrs))
	for _, ia := range ipAddrs {
		addr, ok := netip.AddrFromSlice(ia.IP)
		if !ok {
			return nil, fmt.Errorf("invalid address %v", ia.IP)
		}
		out = append(out, addr)
	}
	return out, nil
}

// control 在建立连接前检查实际拨号的地址，防止 DNS 重绑定
func (g *Guard) control(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", domain.ErrUnsafeDestination, address)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil || g.IsBlockedAddr(addr) {
		return fmt.Errorf("%w: connection to %s blocked", domain.ErrUnsafeDestination, host)
	}
	return nil
}

// safeTransport 每次请求（包括每一跳重定向）都重新校验目标主机
type safeTransport struct {
	guard *Guard
	base  http.RoundTripper
}

func (t *safeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.guard.CheckHost(req.Context(), req.URL.Hostname()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// NewClient 创建带 SSRF 防护的 HTTP 客户端
func (g *Guard) NewClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   g.control,
	}
	base := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &safeTransport{guard: g, base: base},
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", MaxRedirects)
			}
			return nil
		},
	}
}

// NewSafeClient 使用默认规则创建带 SSRF 防护的 HTTP 客户端
func NewSafeClient(timeout time.Duration, opts ...Option) *http.Client {
	return NewGuard(opts...).NewClient(timeout)
}
