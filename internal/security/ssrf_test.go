package security

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookforms/backend/internal/domain"
)

// fakeResolver 固定的解析结果
type fakeResolver map[string][]string

func (f fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	ips, ok := f[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	out := make([]net.IPAddr, 0, len(ips))
	for _, ip := range ips {
		out = append(out, net.IPAddr{IP: net.ParseIP(ip)})
	}
	return out, nil
}

func TestGuard_IsSafeURL(t *testing.T) {
	ctx := context.Background()
	g := NewGuard(WithResolver(fakeResolver{
		"hooks.example.com":  {"93.184.216.34"},
		"internal.example":   {"10.1.2.3"},
		"mixed.example.com":  {"93.184.216.34", "192.168.1.1"},
		"mapped.example.com": {"::ffff:127.0.0.1"},
		"v6.example.com":     {"2606:4700::1111"},
	}))

	cases := []struct {
		name   string
		url    string
		safe   bool
		reason string
	}{
		{"公网地址", "https://hooks.example.com/x", true, ""},
		{"公网 IPv6", "https://v6.example.com/", true, ""},
		{"非 http 协议", "ftp://hooks.example.com/", false, "Scheme 'ftp' not allowed. Use http or https."},
		{"缺少主机名", "http:///path", false, "URL has no hostname"},
		{"内部服务名", "http://redis:6379/", false, "Hostname 'redis' is not allowed"},
		{"主机名大小写", "http://LocalHost/", false, "Hostname 'LocalHost' is not allowed"},
		{"元数据服务", "http://metadata.google.internal/computeMetadata", false, "Hostname 'metadata.google.internal' is not allowed"},
		{"解析到内网", "http://internal.example/", false, "URL resolves to private/reserved IP address"},
		{"任一地址为内网即拒绝", "http://mixed.example.com/", false, "URL resolves to private/reserved IP address"},
		{"IPv4 映射地址", "http://mapped.example.com/", false, "URL resolves to private/reserved IP address"},
		{"IP 字面量", "http://169.254.169.254/latest", false, "URL resolves to private/reserved IP address"},
		{"IPv6 回环", "http://[::1]:8080/", false, "URL resolves to private/reserved IP address"},
		{"无法解析", "http://nowhere.example/", false, "Cannot resolve hostname"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			safe, reason := g.IsSafeURL(ctx, tc.url)
			assert.Equal(t, tc.safe, safe)
			assert.Equal(t, tc.reason, reason)
		})
	}
}

func TestGuard_IsBlockedAddr(t *testing.T) {
	g := NewGuard()
	for _, s := range []string{"10.0.0.1", "172.31.255.255", "192.168.0.10", "127.0.0.53", "0.1.2.3", "fd00::1", "fe80::1", "::ffff:10.0.0.1"} {
		assert.True(t, g.IsBlockedAddr(netip.MustParseAddr(s)), s)
	}
	for _, s := range []string{"8.8.8.8", "172.32.0.1", "2001:4860:4860::8888"} {
		assert.False(t, g.IsBlockedAddr(netip.MustParseAddr(s)), s)
	}
	assert.True(t, g.IsBlockedAddr(netip.Addr{}))
}

func TestSafeClient_BlocksLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewSafeClient(5 * time.Second)
	resp, err := client.Get(srv.URL)
	if resp != nil {
		resp.Body.Close()
	}
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnsafeDestination))
}

func TestSafeClient_DialControl(t *testing.T) {
	g := NewGuard()
	assert.ErrorIs(t, g.control("tcp", "127.0.0.1:80", nil), domain.ErrUnsafeDestination)
	assert.ErrorIs(t, g.control("tcp", "[::ffff:192.168.1.1]:443", nil), domain.ErrUnsafeDestination)
	assert.NoError(t, g.control("tcp", "93.184.216.34:443", nil))
}

func TestSafeClient_Redirects(t *testing.T) {
	// 放开回环地址段以便连接测试服务器，其余规则保持不变
	allowLoopback := WithBlockedNetworks(netip.MustParsePrefix("10.0.0.0/8"))

	t.Run("重定向到内部主机名被拒绝", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "http://metadata.google.internal/computeMetadata/v1/", http.StatusFound)
		}))
		defer srv.Close()

		client := NewSafeClient(5*time.Second, allowLoopback)
		resp, err := client.Get(srv.URL)
		if resp != nil {
			resp.Body.Close()
		}
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrUnsafeDestination)
	})

	t.Run("最多跟随十次重定向", func(t *testing.T) {
		var hops atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hops.Add(1)
			http.Redirect(w, r, "/again", http.StatusFound)
		}))
		defer srv.Close()

		client := NewSafeClient(5*time.Second, allowLoopback)
		resp, err := client.Get(srv.URL)
		if resp != nil {
			resp.Body.Close()
		}
		require.Error(t, err)
		assert.Equal(t, int32(MaxRedirects), hops.Load())
	})

	t.Run("允许的目标正常返回", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/" {
				http.Redirect(w, r, "/final", http.StatusFound)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}))
		defer srv.Close()

		client := NewSafeClient(5*time.Second, allowLoopback)
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})
}
