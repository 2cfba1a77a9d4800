package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hookforms/backend/internal/domain"
)

func strPtr(s string) *string { return &s }

func TestMemoryStore_APIKeyOperations(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	withPrefix := &domain.APIKey{ID: "k1", Name: "ci", KeyHash: "h1", KeyPrefix: strPtr("hf_aaaaaaaaa"), Scopes: []string{"webhooks"}, IsActive: true}
	legacy := &domain.APIKey{ID: "k2", Name: "old", KeyHash: "h2", Scopes: []string{"webhooks"}, IsActive: true}
	inactive := &domain.APIKey{ID: "k3", Name: "off", KeyHash: "h3", KeyPrefix: strPtr("hf_aaaaaaaaa"), IsActive: false}
	for _, k := range []*domain.APIKey{withPrefix, legacy, inactive} {
		require.NoError(t, store.CreateAPIKey(ctx, k))
	}

	t.Run("重复哈希被拒绝", func(t *testing.T) {
		err := store.CreateAPIKey(ctx, &domain.APIKey{ID: "k4", KeyHash: "h1"})
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("按前缀只返回启用的密钥", func(t *testing.T) {
		keys, err := store.ListActiveAPIKeysByPrefix(ctx, "hf_aaaaaaaaa")
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.Equal(t, "k1", keys[0].ID)
	})

	t.Run("无前缀的旧版密钥", func(t *testing.T) {
		keys, err := store.ListActiveAPIKeysWithoutPrefix(ctx)
		require.NoError(t, err)
		require.Len(t, keys, 1)
		assert.Equal(t, "k2", keys[0].ID)
	})

	t.Run("补写前缀只发生一次", func(t *testing.T) {
		now := time.Now()
		require.NoError(t, store.TouchAPIKey(ctx, "k2", now, strPtr("hf_bbbbbbbbb")))
		require.NoError(t, store.TouchAPIKey(ctx, "k2", now, strPtr("hf_ccccccccc")))

		key, err := store.GetAPIKey(ctx, "k2")
		require.NoError(t, err)
		require.NotNil(t, key.KeyPrefix)
		assert.Equal(t, "hf_bbbbbbbbb", *key.KeyPrefix)
		require.NotNil(t, key.LastUsedAt)
	})

	t.Run("返回副本", func(t *testing.T) {
		key, err := store.GetAPIKey(ctx, "k1")
		require.NoError(t, err)
		key.Scopes[0] = "admin"

		again, _ := store.GetAPIKey(ctx, "k1")
		assert.Equal(t, "webhooks", again.Scopes[0])
	})

	t.Run("停用与分页", func(t *testing.T) {
		require.NoError(t, store.DeactivateAPIKey(ctx, "k1"))
		keys, _ := store.ListActiveAPIKeysByPrefix(ctx, "hf_aaaaaaaaa")
		assert.Empty(t, keys)

		page, total, err := store.ListAPIKeys(ctx, 2, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, page, 2)

		assert.ErrorIs(t, store.DeactivateAPIKey(ctx, "missing"), domain.ErrNotFound)
	})
}

func TestMemoryStore_InboxChannelProviderEvent(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	inbox := &domain.Inbox{ID: "i1", Slug: "contact", IsActive: true}
	require.NoError(t, store.CreateInbox(ctx, inbox))
	assert.ErrorIs(t, store.CreateInbox(ctx, &domain.Inbox{ID: "i2", Slug: "contact"}), domain.ErrAlreadyExists)

	t.Run("停用的收件箱对公开路径不可见", func(t *testing.T) {
		got, err := store.GetActiveInboxBySlug(ctx, "contact")
		require.NoError(t, err)
		assert.Equal(t, "i1", got.ID)

		got.IsActive = false
		require.NoError(t, store.UpdateInbox(ctx, got))
		_, err = store.GetActiveInboxBySlug(ctx, "contact")
		assert.ErrorIs(t, err, domain.ErrNotFound)

		got.IsActive = true
		require.NoError(t, store.UpdateInbox(ctx, got))
	})

	t.Run("渠道按收件箱隔离", func(t *testing.T) {
		require.NoError(t, store.CreateChannel(ctx, &domain.Channel{ID: "c1", InboxID: "i1", Type: domain.ChannelSlack, IsActive: true, CreatedAt: time.Now().Add(-time.Minute)}))
		require.NoError(t, store.CreateChannel(ctx, &domain.Channel{ID: "c2", InboxID: "i1", Type: domain.ChannelDiscord, IsActive: false}))
		assert.ErrorIs(t, store.CreateChannel(ctx, &domain.Channel{ID: "c3", InboxID: "nope"}), domain.ErrNotFound)

		all, err := store.ListChannels(ctx, "i1")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		active, err := store.ListActiveChannels(ctx, "i1")
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "c1", active[0].ID)

		_, err = store.GetChannel(ctx, "other", "c1")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("服务商按作用域替换", func(t *testing.T) {
		inboxID := "i1"
		require.NoError(t, store.ReplaceProvider(ctx, &domain.EmailProvider{ID: "p1", Type: domain.ProviderResend, IsActive: true}))
		require.NoError(t, store.ReplaceProvider(ctx, &domain.EmailProvider{ID: "p2", InboxID: &inboxID, Type: domain.ProviderSMTP, IsActive: true}))
		require.NoError(t, store.ReplaceProvider(ctx, &domain.EmailProvider{ID: "p3", Type: domain.ProviderSendGrid, IsActive: true}))

		global, err := store.GetActiveProvider(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, "p3", global.ID)

		scoped, err := store.GetActiveProvider(ctx, &inboxID)
		require.NoError(t, err)
		assert.Equal(t, "p2", scoped.ID)

		require.NoError(t, store.DeleteProvider(ctx, nil))
		_, err = store.GetActiveProvider(ctx, nil)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("事件倒序与保留清理", func(t *testing.T) {
		now := time.Now()
		require.NoError(t, store.AppendEvent(ctx, &domain.Event{ID: "e1", InboxID: "i1", ReceivedAt: now.Add(-40 * 24 * time.Hour)}))
		require.NoError(t, store.AppendEvent(ctx, &domain.Event{ID: "e2", InboxID: "i1", ReceivedAt: now}))

		events, total, err := store.ListEvents(ctx, "i1", 10, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Equal(t, "e2", events[0].ID)

		removed, err := store.DeleteEventsBefore(ctx, now.Add(-30*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)
	})

	t.Run("删除收件箱级联", func(t *testing.T) {
		require.NoError(t, store.DeleteInbox(ctx, "i1"))
		chans, _ := store.ListChannels(ctx, "i1")
		assert.Empty(t, chans)
		_, total, _ := store.ListEvents(ctx, "i1", 10, 0)
		assert.Zero(t, total)
		inboxID := "i1"
		_, err := store.GetActiveProvider(ctx, &inboxID)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{1, 2}, paginate(items, 2, 0))
	assert.Equal(t, []int{5}, paginate(items, 2, 4))
	assert.Equal(t, []int{}, paginate(items, 2, 10))
	assert.Equal(t, items, paginate(items, 0, 0))
}
