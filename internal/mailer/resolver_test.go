package mailer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookforms/backend/internal/config"
	"hookforms/backend/internal/domain"
	"hookforms/backend/internal/storage/memory"
)

func newResolverFixture(t *testing.T, legacy config.GmailConfig) (*Resolver, *memory.Store, *domain.Inbox) {
	t.Helper()
	store := memory.NewStore()
	inbox := &domain.Inbox{ID: "inbox-1", Slug: "contact", IsActive: true}
	require.NoError(t, store.CreateInbox(context.Background(), inbox))
	return NewResolver(store, legacy, 0, nil), store, inbox
}

func TestResolverResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("收件箱专属服务商优先", func(t *testing.T) {
		r, store, inbox := newResolverFixture(t, config.GmailConfig{})
		require.NoError(t, store.ReplaceProvider(ctx, &domain.EmailProvider{
			ID: "global", Type: domain.ProviderSendGrid, IsActive: true,
			Config: map[string]any{"api_key": "SG.x", "from_email": "g@example.com"},
		}))
		require.NoError(t, store.ReplaceProvider(ctx, &domain.EmailProvider{
			ID: "scoped", InboxID: &inbox.ID, Type: domain.ProviderResend, IsActive: true,
			Config: map[string]any{"api_key": "re_x", "from_email": "s@example.com"},
		}))

		p, err := r.Resolve(ctx, inbox.ID)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "resend", p.Type())
	})

	t.Run("回退到全局服务商", func(t *testing.T) {
		r, store, inbox := newResolverFixture(t, config.GmailConfig{})
		require.NoError(t, store.ReplaceProvider(ctx, &domain.EmailProvider{
			ID: "global", Type: domain.ProviderSMTP, IsActive: true,
			Config: map[string]any{"host": "smtp.example.com", "port": float64(587), "from_email": "g@example.com"},
		}))

		p, err := r.Resolve(ctx, inbox.ID)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "smtp", p.Type())
	})

	t.Run("停用的服务商被跳过", func(t *testing.T) {
		r, store, inbox := newResolverFixture(t, config.GmailConfig{})
		require.NoError(t, store.ReplaceProvider(ctx, &domain.EmailProvider{
			ID: "scoped", InboxID: &inbox.ID, Type: domain.ProviderResend, IsActive: false,
			Config: map[string]any{"api_key": "re_x", "from_email": "s@example.com"},
		}))

		p, err := r.Resolve(ctx, inbox.ID)
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("旧版 Gmail 配置", func(t *testing.T) {
		dir := t.TempDir()
		tokenPath := filepath.Join(dir, "token.json")
		require.NoError(t, os.WriteFile(tokenPath, []byte("{}"), 0o600))

		r, _, inbox := newResolverFixture(t, config.GmailConfig{
			TokenPath:   tokenPath,
			SenderEmail: "me@example.com",
			TrustedDir:  dir,
		})
		assert.True(t, r.LegacyAvailable())

		p, err := r.Resolve(ctx, inbox.ID)
		require.NoError(t, err)
		require.NotNil(t, p)
		assert.Equal(t, "gmail", p.Type())
	})

	t.Run("旧版配置缺少发件人", func(t *testing.T) {
		dir := t.TempDir()
		tokenPath := filepath.Join(dir, "token.json")
		require.NoError(t, os.WriteFile(tokenPath, []byte("{}"), 0o600))

		r, _, inbox := newResolverFixture(t, config.GmailConfig{TokenPath: tokenPath})
		assert.False(t, r.LegacyAvailable())

		p, err := r.Resolve(ctx, inbox.ID)
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("存储的配置损坏", func(t *testing.T) {
		r, store, inbox := newResolverFixture(t, config.GmailConfig{})
		require.NoError(t, store.ReplaceProvider(ctx, &domain.EmailProvider{
			ID: "scoped", InboxID: &inbox.ID, Type: domain.ProviderResend, IsActive: true,
			Config: map[string]any{"from_email": "s@example.com"},
		}))

		_, err := r.Resolve(ctx, inbox.ID)
		assert.ErrorIs(t, err, ErrInvalidProvider)
	})
}

func TestResolverFromRecord(t *testing.T) {
	r := NewResolver(memory.NewStore(), config.GmailConfig{TrustedDir: t.TempDir()}, 0, nil)

	t.Run("未知类型", func(t *testing.T) {
		_, err := r.FromRecord(&domain.EmailProvider{Type: "carrier-pigeon"})
		assert.ErrorIs(t, err, ErrInvalidProvider)
	})

	t.Run("Gmail 路径不在可信目录", func(t *testing.T) {
		_, err := r.FromRecord(&domain.EmailProvider{Type: domain.ProviderGmail, Config: map[string]any{
			"credentials_path": "/tmp/c.json",
			"token_path":       "/tmp/t.json",
			"sender_email":     "me@example.com",
		}})
		assert.ErrorIs(t, err, ErrInvalidProvider)
	})

	t.Run("同一令牌文件共享缓存", func(t *testing.T) {
		a := r.tokenCache("c.json", "/x/token.json")
		b := r.tokenCache("c.json", "/x/token.json")
		assert.Same(t, a, b)
	})
}
