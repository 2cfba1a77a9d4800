package storage

import (
	"context"
	"time"

	"hookforms/backend/internal/domain"
)

// CounterStore 共享计数存储，所有限流与锁定状态都只存在这里。
// 实现必须保证每个操作是原子的，不允许先读后写。
type CounterStore interface {
	// IncrWithExpiry 自增计数，仅在首次自增（结果为 1）时设置过期时间
	IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Get 读取计数，不存在时返回 0
	Get(ctx context.Context, key string) (int64, error)
	// Del 删除键
	Del(ctx context.Context, keys ...string) error
	// SlidingWindow 清理窗口外的记录、统计剩余数量并写入当前时间戳，返回写入前的数量
	SlidingWindow(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error)
	// Ping 检查连通性
	Ping(ctx context.Context) error
}

// APIKeyRepository 定义API Key数据存取操作。
type APIKeyRepository interface {
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	GetAPIKey(ctx context.Context, id string) (*domain.APIKey, error)
	ListActiveAPIKeysByPrefix(ctx context.Context, prefix string) ([]*domain.APIKey, error)
	ListActiveAPIKeysWithoutPrefix(ctx context.Context) ([]*domain.APIKey, error)
	ListAPIKeys(ctx context.Context, limit, offset int) ([]*domain.APIKey, int64, error)
	// TouchAPIKey 记录最后使用时间，backfillPrefix 不为空时补写前缀
	TouchAPIKey(ctx context.Context, id string, usedAt time.Time, backfillPrefix *string) error
	DeactivateAPIKey(ctx context.Context, id string) error
}

// InboxRepository 定义收件箱数据存取操作。
type InboxRepository interface {
	CreateInbox(ctx context.Context, inbox *domain.Inbox) error
	GetInboxBySlug(ctx context.Context, slug string) (*domain.Inbox, error)
	GetActiveInboxBySlug(ctx context.Context, slug string) (*domain.Inbox, error)
	ListInboxes(ctx context.Context, limit, offset int) ([]*domain.Inbox, int64, error)
	UpdateInbox(ctx context.Context, inbox *domain.Inbox) error
	// DeleteInbox 删除收件箱及其渠道、服务商和事件
	DeleteInbox(ctx context.Context, id string) error
}

// ChannelRepository 定义通知渠道数据存取操作。
type ChannelRepository interface {
	CreateChannel(ctx context.Context, ch *domain.Channel) error
	GetChannel(ctx context.Context, inboxID, id string) (*domain.Channel, error)
	ListChannels(ctx context.Context, inboxID string) ([]*domain.Channel, error)
	ListActiveChannels(ctx context.Context, inboxID string) ([]*domain.Channel, error)
	UpdateChannel(ctx context.Context, ch *domain.Channel) error
	DeleteChannel(ctx context.Context, inboxID, id string) error
}

// ProviderRepository 定义邮件服务商数据存取操作。inboxID 为 nil 表示全局作用域。
type ProviderRepository interface {
	GetActiveProvider(ctx context.Context, inboxID *string) (*domain.EmailProvider, error)
	// ReplaceProvider 先删除同作用域的服务商再插入，保证每个作用域只有一条记录
	ReplaceProvider(ctx context.Context, p *domain.EmailProvider) error
	DeleteProvider(ctx context.Context, inboxID *string) error
}

// EventRepository 定义事件数据存取操作。
type EventRepository interface {
	AppendEvent(ctx context.Context, ev *domain.Event) error
	ListEvents(ctx context.Context, inboxID string, limit, offset int) ([]*domain.Event, int64, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store 定义完整的存储接口。
type Store interface {
	APIKeyRepository
	InboxRepository
	ChannelRepository
	ProviderRepository
	EventRepository

	Close() error
	Health(ctx context.Context) error
}
