package turnstile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookforms/backend/internal/config"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Verifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewVerifier(config.TurnstileConfig{VerifyURL: srv.URL}, nil)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("校验通过", func(t *testing.T) {
		v := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "sekret", r.PostForm.Get("secret"))
			assert.Equal(t, "tok", r.PostForm.Get("response"))
			assert.Equal(t, "203.0.113.7", r.PostForm.Get("remoteip"))
			_, _ = w.Write([]byte(`{"success":true}`))
		})
		assert.NoError(t, v.Verify(ctx, "sekret", "tok", "203.0.113.7"))
	})

	t.Run("令牌为空", func(t *testing.T) {
		v := NewVerifier(config.TurnstileConfig{VerifyURL: "http://127.0.0.1:1"}, nil)
		assert.ErrorIs(t, v.Verify(ctx, "s", "", ""), ErrMissingToken)
	})

	t.Run("校验失败", func(t *testing.T) {
		v := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
		})
		assert.ErrorIs(t, v.Verify(ctx, "s", "bad", ""), ErrRejected)
	})

	t.Run("响应无法解析", func(t *testing.T) {
		v := newServer(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "<html>bad gateway</html>", http.StatusBadGateway)
		})
		assert.ErrorIs(t, v.Verify(ctx, "s", "tok", ""), ErrUnavailable)
	})

	t.Run("服务不可达", func(t *testing.T) {
		v := NewVerifier(config.TurnstileConfig{VerifyURL: "http://127.0.0.1:1"}, nil)
		assert.ErrorIs(t, v.Verify(ctx, "s", "tok", ""), ErrUnavailable)
	})
}
