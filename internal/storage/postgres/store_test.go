package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"

	"hookforms/backend/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := NewStoreWithDialector(sqlite.Open(dsn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedInbox(t *testing.T, store *Store, slug string) *domain.Inbox {
	t.Helper()
	inbox := &domain.Inbox{ID: uuid.NewString(), Slug: slug, IsActive: true}
	require.NoError(t, store.CreateInbox(context.Background(), inbox))
	return inbox
}

func TestStore_APIKeys(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	prefix := "hf_abcdefghi"
	require.NoError(t, store.CreateAPIKey(ctx, &domain.APIKey{ID: "k1", Name: "ci", KeyHash: "h1", KeyPrefix: &prefix, Scopes: []string{"webhooks"}, IsActive: true}))
	require.NoError(t, store.CreateAPIKey(ctx, &domain.APIKey{ID: "k2", Name: "legacy", KeyHash: "h2", Scopes: []string{"admin"}, IsActive: true}))

	t.Run("重复哈希", func(t *testing.T) {
		err := store.CreateAPIKey(ctx, &domain.APIKey{ID: "k3", Name: "dup", KeyHash: "h1", IsActive: true})
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("前缀查找", func(t *testing.T) {
		keys, err := store.ListActiveAPIKeysByPrefix(ctx, prefix)
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.Equal(t, []string{"webhooks"}, keys[0].Scopes)

		legacy, err := store.ListActiveAPIKeysWithoutPrefix(ctx)
		require.NoError(t, err)
		require.Len(t, legacy, 1)
		assert.Equal(t, "k2", legacy[0].ID)
	})

	t.Run("补写前缀", func(t *testing.T) {
		backfill := "hf_zzzzzzzzz"
		require.NoError(t, store.TouchAPIKey(ctx, "k2", time.Now(), &backfill))

		key, err := store.GetAPIKey(ctx, "k2")
		require.NoError(t, err)
		require.NotNil(t, key.KeyPrefix)
		assert.Equal(t, backfill, *key.KeyPrefix)
		assert.NotNil(t, key.LastUsedAt)

		assert.ErrorIs(t, store.TouchAPIKey(ctx, "missing", time.Now(), nil), domain.ErrNotFound)
	})

	t.Run("停用", func(t *testing.T) {
		require.NoError(t, store.DeactivateAPIKey(ctx, "k1"))
		keys, err := store.ListActiveAPIKeysByPrefix(ctx, prefix)
		require.NoError(t, err)
		assert.Empty(t, keys)

		all, total, err := store.ListAPIKeys(ctx, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, all, 2)
	})
}

func TestStore_Inboxes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	inbox := seedInbox(t, store, "contact")

	t.Run("slug 唯一", func(t *testing.T) {
		err := store.CreateInbox(ctx, &domain.Inbox{ID: uuid.NewString(), Slug: "contact", IsActive: true})
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("更新与停用", func(t *testing.T) {
		inbox.Description = "site form"
		inbox.IsActive = false
		require.NoError(t, store.UpdateInbox(ctx, inbox))

		_, err := store.GetActiveInboxBySlug(ctx, "contact")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		got, err := store.GetInboxBySlug(ctx, "contact")
		require.NoError(t, err)
		assert.Equal(t, "site form", got.Description)
		assert.False(t, got.IsActive)
	})

	t.Run("分页", func(t *testing.T) {
		seedInbox(t, store, "second")
		page, total, err := store.ListInboxes(ctx, 1, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, page, 1)
	})
}

func TestStore_ChannelsProvidersEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	inbox := seedInbox(t, store, "orders")

	t.Run("渠道", func(t *testing.T) {
		active := &domain.Channel{ID: uuid.NewString(), InboxID: inbox.ID, Type: domain.ChannelSlack,
			Config: map[string]any{"webhook_url": "https://hooks.slack.com/services/x"}, IsActive: true}
		inactive := &domain.Channel{ID: uuid.NewString(), InboxID: inbox.ID, Type: domain.ChannelNtfy, IsActive: false}
		require.NoError(t, store.CreateChannel(ctx, active))
		require.NoError(t, store.CreateChannel(ctx, inactive))

		err := store.CreateChannel(ctx, &domain.Channel{ID: uuid.NewString(), InboxID: "missing", Type: domain.ChannelSlack})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		list, err := store.ListActiveChannels(ctx, inbox.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "https://hooks.slack.com/services/x", list[0].ConfigString("webhook_url"))

		active.Label = "ops"
		require.NoError(t, store.UpdateChannel(ctx, active))
		got, err := store.GetChannel(ctx, inbox.ID, active.ID)
		require.NoError(t, err)
		assert.Equal(t, "ops", got.Label)

		require.NoError(t, store.DeleteChannel(ctx, inbox.ID, inactive.ID))
		assert.ErrorIs(t, store.DeleteChannel(ctx, inbox.ID, inactive.ID), domain.ErrNotFound)
	})

	t.Run("服务商替换", func(t *testing.T) {
		require.NoError(t, store.ReplaceProvider(ctx, &domain.EmailProvider{ID: uuid.NewString(), Type: domain.ProviderResend,
			Config: map[string]any{"api_key": "re_1", "from_email": "a@example.com"}, IsActive: true}))
		require.NoError(t, store.ReplaceProvider(ctx, &domain.EmailProvider{ID: uuid.NewString(), Type: domain.ProviderSendGrid,
			Config: map[string]any{"api_key": "SG.1", "from_email": "a@example.com"}, IsActive: true}))
		require.NoError(t, store.ReplaceProvider(ctx, &domain.EmailProvider{ID: uuid.NewString(), InboxID: &inbox.ID, Type: domain.ProviderSMTP,
			Config: map[string]any{"host": "mail.example.com"}, IsActive: true}))

		global, err := store.GetActiveProvider(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.ProviderSendGrid, global.Type)

		scopedP, err := store.GetActiveProvider(ctx, &inbox.ID)
		require.NoError(t, err)
		assert.Equal(t, "mail.example.com", scopedP.Config["host"])

		require.NoError(t, store.DeleteProvider(ctx, nil))
		_, err = store.GetActiveProvider(ctx, nil)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("事件保留顺序与清理", func(t *testing.T) {
		now := time.Now().UTC()
		body := domain.PayloadFromPairs("name", "Ada", "email", "ada@example.com")
		require.NoError(t, store.AppendEvent(ctx, &domain.Event{ID: uuid.NewString(), InboxID: inbox.ID, Method: "POST",
			Body: body, Headers: map[string]string{"content-type": "application/json"}, ReceivedAt: now}))
		require.NoError(t, store.AppendEvent(ctx, &domain.Event{ID: uuid.NewString(), InboxID: inbox.ID, Method: "GET",
			ReceivedAt: now.Add(-45 * 24 * time.Hour)}))

		events, total, err := store.ListEvents(ctx, inbox.ID, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		require.NotNil(t, events[0].Body)
		assert.Equal(t, []string{"name", "email"}, events[0].Body.Keys())
		assert.Nil(t, events[1].Body)

		removed, err := store.DeleteEventsBefore(ctx, now.Add(-30*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)
	})

	t.Run("级联删除", func(t *testing.T) {
		require.NoError(t, store.DeleteInbox(ctx, inbox.ID))
		chans, err := store.ListChannels(ctx, inbox.ID)
		require.NoError(t, err)
		assert.Empty(t, chans)
		assert.ErrorIs(t, store.DeleteInbox(ctx, inbox.ID), domain.ErrNotFound)
	})

	assert.NoError(t, store.Health(ctx))
}
