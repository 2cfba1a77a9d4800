package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookforms/backend/internal/auth"
	"hookforms/backend/internal/config"
	"hookforms/backend/internal/domain"
	"hookforms/backend/internal/mailer"
	"hookforms/backend/internal/storage/memory"
)

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.CreateInbox(context.Background(), &domain.Inbox{ID: "i1", Slug: "contact", IsActive: true}))
	return store
}

func TestChannelService(t *testing.T) {
	ctx := context.Background()
	discord := "https://discord.com/api/webhooks/123/abc"

	t.Run("拼写错误给出建议", func(t *testing.T) {
		store := seededStore(t)
		svc := NewChannelService(store, store, stubURLs{}, nil)
		_, err := svc.Create(ctx, "contact", CreateChannelInput{Type: "discrod", Config: map[string]any{"webhook_url": discord}})
		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, "Invalid channel type: discrod. Did you mean 'discord'?", reqErr.Message)
	})

	t.Run("通用webhook自动识别为Discord", func(t *testing.T) {
		store := seededStore(t)
		svc := NewChannelService(store, store, stubURLs{}, nil)
		ch, err := svc.Create(ctx, "contact", CreateChannelInput{Type: "webhook", Config: map[string]any{"url": discord}})
		require.NoError(t, err)
		assert.Equal(t, domain.ChannelDiscord, ch.Type)
		assert.True(t, ch.IsActive)
	})

	t.Run("配置不完整被拒绝", func(t *testing.T) {
		store := seededStore(t)
		svc := NewChannelService(store, store, stubURLs{}, nil)
		_, err := svc.Create(ctx, "contact", CreateChannelInput{Type: "telegram", Config: map[string]any{"bot_url": "https://api.telegram.org/botX/sendMessage"}})
		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Contains(t, reqErr.Message, "chat_id")
	})

	t.Run("出站地址不安全被拒绝", func(t *testing.T) {
		store := seededStore(t)
		urls := stubURLs{"https://ntfy.internal/topic": "URL resolves to private/reserved IP address"}
		svc := NewChannelService(store, store, urls, nil)
		_, err := svc.Create(ctx, "contact", CreateChannelInput{Type: "ntfy", Config: map[string]any{"url": "https://ntfy.internal/topic"}})
		var reqErr *RequestError
		require.ErrorAs(t, err, &reqErr)
		assert.Contains(t, reqErr.Message, "private/reserved")
	})

	t.Run("列出更新删除", func(t *testing.T) {
		store := seededStore(t)
		svc := NewChannelService(store, store, stubURLs{}, nil)
		ch, err := svc.Create(ctx, "contact", CreateChannelInput{Type: "discord", Label: "ops", Config: map[string]any{"webhook_url": discord}})
		require.NoError(t, err)

		list, err := svc.List(ctx, "contact")
		require.NoError(t, err)
		require.Len(t, list, 1)

		updated, err := svc.Update(ctx, "contact", ch.ID, UpdateChannelInput{Label: ptr("alerts"), IsActive: ptr(false)})
		require.NoError(t, err)
		assert.Equal(t, "alerts", updated.Label)
		assert.False(t, updated.IsActive)

		_, err = svc.Update(ctx, "contact", ch.ID, UpdateChannelInput{Type: ptr("slack")})
		var reqErr *RequestError
		assert.ErrorAs(t, err, &reqErr, "discord url is not a valid slack config")

		require.NoError(t, svc.Delete(ctx, "contact", ch.ID))
		assert.ErrorIs(t, svc.Delete(ctx, "contact", ch.ID), ErrChannelNotFound)
		_, err = svc.Update(ctx, "contact", ch.ID, UpdateChannelInput{})
		assert.ErrorIs(t, err, ErrChannelNotFound)
	})

	t.Run("收件箱不存在", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewChannelService(store, store, stubURLs{}, nil)
		_, err := svc.List(ctx, "nope")
		assert.ErrorIs(t, err, ErrInboxNotFound)
	})
}

func TestProviderService(t *testing.T) {
	ctx := context.Background()
	resendCfg := map[string]any{"api_key": "re_123", "from_email": "noreply@example.com"}

	t.Run("没有配置时报告旧版Gmail回退", func(t *testing.T) {
		dir := t.TempDir()
		tokenPath := filepath.Join(dir, "token.json")
		require.NoError(t, os.WriteFile(tokenPath, []byte(`{}`), 0o600))

		store := seededStore(t)
		resolver := mailer.NewResolver(store, config.GmailConfig{TokenPath: tokenPath, SenderEmail: "me@example.com", TrustedDir: dir}, 0, nil)
		svc := NewProviderService(store, store, resolver, nil)

		p, fallback, err := svc.Get(ctx, "")
		require.NoError(t, err)
		assert.Nil(t, p)
		assert.Equal(t, FallbackEnvGmail, fallback)
	})

	t.Run("没有任何可用配置", func(t *testing.T) {
		store := seededStore(t)
		svc := NewProviderService(store, store, mailer.NewResolver(store, config.GmailConfig{}, 0, nil), nil)
		p, fallback, err := svc.Get(ctx, "contact")
		require.NoError(t, err)
		assert.Nil(t, p)
		assert.Empty(t, fallback)
	})

	t.Run("按作用域写入并替换", func(t *testing.T) {
		store := seededStore(t)
		svc := NewProviderService(store, store, mailer.NewResolver(store, config.GmailConfig{}, 0, nil), nil)

		_, err := svc.Put(ctx, "contact", "resend", resendCfg)
		require.NoError(t, err)
		second, err := svc.Put(ctx, "contact", "sendgrid", resendCfg)
		require.NoError(t, err)

		got, _, err := svc.Get(ctx, "contact")
		require.NoError(t, err)
		assert.Equal(t, second.ID, got.ID)
		assert.Equal(t, domain.ProviderSendGrid, got.Type)
		require.NotNil(t, got.InboxID)
		assert.Equal(t, "i1", *got.InboxID)

		global, _, err := svc.Get(ctx, "")
		require.NoError(t, err)
		assert.Nil(t, global)

		require.NoError(t, svc.Delete(ctx, "contact"))
		got, _, err = svc.Get(ctx, "contact")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("非法类型和配置被拒绝", func(t *testing.T) {
		store := seededStore(t)
		svc := NewProviderService(store, store, mailer.NewResolver(store, config.GmailConfig{TrustedDir: t.TempDir()}, 0, nil), nil)
		var reqErr *RequestError

		_, err := svc.Put(ctx, "", "mailgun", resendCfg)
		require.ErrorAs(t, err, &reqErr)
		assert.Equal(t, "Invalid provider type: mailgun", reqErr.Message)

		_, err = svc.Put(ctx, "", "smtp", map[string]any{"host": "smtp.example.com", "from_email": "a@example.com"})
		require.ErrorAs(t, err, &reqErr)

		_, err = svc.Put(ctx, "", "gmail", map[string]any{
			"credentials_path": "/etc/passwd", "token_path": "/etc/shadow", "sender_email": "a@example.com",
		})
		require.ErrorAs(t, err, &reqErr)
		assert.Contains(t, reqErr.Message, "Invalid provider config")
	})

	t.Run("收件箱不存在", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewProviderService(store, store, nil, nil)
		_, err := svc.Put(ctx, "nope", "resend", resendCfg)
		assert.ErrorIs(t, err, ErrInboxNotFound)
	})
}

func TestAPIKeyService(t *testing.T) {
	ctx := context.Background()

	t.Run("创建的密钥只返回一次明文且可校验", func(t *testing.T) {
		svc := NewAPIKeyService(memory.NewStore(), nil)
		key, raw, err := svc.CreateAPIKey(ctx, "deploy bot", []string{"webhooks"})
		require.NoError(t, err)
		assert.True(t, len(raw) > domain.KeyPrefixLength)
		assert.Equal(t, auth.KeyPrefix, raw[:len(auth.KeyPrefix)])
		require.NotNil(t, key.KeyPrefix)
		assert.Equal(t, raw[:domain.KeyPrefixLength], *key.KeyPrefix)
		assert.NotEqual(t, raw, key.KeyHash)
		assert.True(t, auth.VerifyKey(raw, key.KeyHash))
	})

	t.Run("未知权限返回字段错误", func(t *testing.T) {
		svc := NewAPIKeyService(memory.NewStore(), nil)
		_, _, err := svc.CreateAPIKey(ctx, "x", []string{"webhooks", "root"})
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "Invalid scopes: root. Valid: admin, webhooks", vErr.Details[0].Message)
	})

	t.Run("名称为空", func(t *testing.T) {
		svc := NewAPIKeyService(memory.NewStore(), nil)
		_, _, err := svc.CreateAPIKey(ctx, "  ", nil)
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, "name", vErr.Details[0].Field)
	})

	t.Run("吊销后保留记录", func(t *testing.T) {
		store := memory.NewStore()
		svc := NewAPIKeyService(store, nil)
		key, _, err := svc.CreateAPIKey(ctx, "temp", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{}, key.Scopes)

		require.NoError(t, svc.RevokeAPIKey(ctx, key.ID))
		got, err := store.GetAPIKey(ctx, key.ID)
		require.NoError(t, err)
		assert.False(t, got.IsActive)

		assert.ErrorIs(t, svc.RevokeAPIKey(ctx, "missing"), ErrAPIKeyNotFound)

		keys, total, err := svc.ListAPIKeys(ctx, 50, 0)
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
		assert.Len(t, keys, 1)
	})
}
