package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"hookforms/backend/internal/domain"
)

// Store 使用内存保存收件箱、渠道和事件数据，主要用于开发验证和测试。
type Store struct {
	mu        sync.RWMutex
	apiKeys   map[string]*domain.APIKey        // apiKeyID -> apiKey
	inboxes   map[string]*domain.Inbox         // inboxID -> inbox
	bySlug    map[string]string                // slug -> inboxID
	channels  map[string]*domain.Channel       // channelID -> channel
	providers map[string]*domain.EmailProvider // scope -> provider，全局作用域使用空字符串
	events    map[string][]*domain.Event       // inboxID -> events（按接收顺序）
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		apiKeys:   make(map[string]*domain.APIKey),
		inboxes:   make(map[string]*domain.Inbox),
		bySlug:    make(map[string]string),
		channels:  make(map[string]*domain.Channel),
		providers: make(map[string]*domain.EmailProvider),
		events:    make(map[string][]*domain.Event),
	}
}

// ========== API Key ==========

// CreateAPIKey 保存 API 密钥
func (s *Store) CreateAPIKey(_ context.Context, key *domain.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.apiKeys {
		if existing.KeyHash == key.KeyHash {
			return domain.ErrAlreadyExists
		}
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	key.UpdatedAt = key.CreatedAt
	s.apiKeys[key.ID] = cloneAPIKey(key)
	return nil
}

// GetAPIKey 根据 ID 获取 API 密钥
func (s *Store) GetAPIKey(_ context.Context, id string) (*domain.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneAPIKey(key), nil
}

// ListActiveAPIKeysByPrefix 按前缀查找启用的密钥
func (s *Store) ListActiveAPIKeysByPrefix(_ context.Context, prefix string) ([]*domain.APIKey, error) {
	return s.filterKeys(func(k *domain.APIKey) bool {
		return k.IsActive && k.KeyPrefix != nil && *k.KeyPrefix == prefix
	}), nil
}

// ListActiveAPIKeysWithoutPrefix 查找没有前缀的旧版启用密钥
func (s *Store) ListActiveAPIKeysWithoutPrefix(_ context.Context) ([]*domain.APIKey, error) {
	return s.filterKeys(func(k *domain.APIKey) bool {
		return k.IsActive && (k.KeyPrefix == nil || *k.KeyPrefix == "")
	}), nil
}

// ListAPIKeys 分页列出所有密钥，按创建时间倒序
func (s *Store) ListAPIKeys(_ context.Context, limit, offset int) ([]*domain.APIKey, int64, error) {
	all := s.filterKeys(func(*domain.APIKey) bool { return true })
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return paginate(all, limit, offset), int64(len(all)), nil
}

// TouchAPIKey 更新最后使用时间并按需补写前缀
func (s *Store) TouchAPIKey(_ context.Context, id string, usedAt time.Time, backfillPrefix *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return domain.ErrNotFound
	}
	t := usedAt
	key.LastUsedAt = &t
	if backfillPrefix != nil && (key.KeyPrefix == nil || *key.KeyPrefix == "") {
		p := *backfillPrefix
		key.KeyPrefix = &p
	}
	key.UpdatedAt = usedAt
	return nil
}

// DeactivateAPIKey 停用密钥
func (s *Store) DeactivateAPIKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.apiKeys[id]
	if !ok {
		return domain.ErrNotFound
	}
	key.IsActive = false
	key.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) filterKeys(match func(*domain.APIKey) bool) []*domain.APIKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.APIKey
	for _, k := range s.apiKeys {
		if match(k) {
			out = append(out, cloneAPIKey(k))
		}
	}
	return out
}

// ========== 收件箱 ==========

// CreateInbox 创建收件箱，slug 必须唯一
func (s *Store) CreateInbox(_ context.Context, inbox *domain.Inbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bySlug[inbox.Slug]; exists {
		return domain.ErrAlreadyExists
	}
	now := time.Now().UTC()
	if inbox.CreatedAt.IsZero() {
		inbox.CreatedAt = now
	}
	inbox.UpdatedAt = now
	cp := *inbox
	s.inboxes[inbox.ID] = &cp
	s.bySlug[inbox.Slug] = inbox.ID
	return nil
}

// GetInboxBySlug 根据 slug 获取收件箱
func (s *Store) GetInboxBySlug(_ context.Context, slug string) (*domain.Inbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySlug[slug]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s.inboxes[id]
	return &cp, nil
}

// GetActiveInboxBySlug 只返回启用的收件箱
func (s *Store) GetActiveInboxBySlug(ctx context.Context, slug string) (*domain.Inbox, error) {
	inbox, err := s.GetInboxBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !inbox.IsActive {
		return nil, domain.ErrNotFound
	}
	return inbox, nil
}

// ListInboxes 分页列出收件箱，按创建时间倒序
func (s *Store) ListInboxes(_ context.Context, limit, offset int) ([]*domain.Inbox, int64, error) {
	s.mu.RLock()
	all := make([]*domain.Inbox, 0, len(s.inboxes))
	for _, inbox := range s.inboxes {
		cp := *inbox
		all = append(all, &cp)
	}
	s.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return paginate(all, limit, offset), int64(len(all)), nil
}

// UpdateInbox 更新收件箱
func (s *Store) UpdateInbox(_ context.Context, inbox *domain.Inbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.inboxes[inbox.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if existing.Slug != inbox.Slug {
		if _, taken := s.bySlug[inbox.Slug]; taken {
			return domain.ErrAlreadyExists
		}
		delete(s.bySlug, existing.Slug)
		s.bySlug[inbox.Slug] = inbox.ID
	}
	inbox.UpdatedAt = time.Now().UTC()
	cp := *inbox
	s.inboxes[inbox.ID] = &cp
	return nil
}

// DeleteInbox 删除收件箱及其关联数据
func (s *Store) DeleteInbox(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inbox, ok := s.inboxes[id]
	if !ok {
		return domain.ErrNotFound
	}
	delete(s.bySlug, inbox.Slug)
	delete(s.inboxes, id)
	delete(s.events, id)
	delete(s.providers, id)
	for cid, ch := range s.channels {
		if ch.InboxID == id {
			delete(s.channels, cid)
		}
	}
	return nil
}

// ========== 通知渠道 ==========

// CreateChannel 创建通知渠道
func (s *Store) CreateChannel(_ context.Context, ch *domain.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inboxes[ch.InboxID]; !ok {
		return domain.ErrNotFound
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	s.channels[ch.ID] = cloneChannel(ch)
	return nil
}

// GetChannel 获取收件箱下的指定渠道
func (s *Store) GetChannel(_ context.Context, inboxID, id string) (*domain.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ch, ok := s.channels[id]
	if !ok || ch.InboxID != inboxID {
		return nil, domain.ErrNotFound
	}
	return cloneChannel(ch), nil
}

// ListChannels 列出收件箱的全部渠道，按创建时间倒序
func (s *Store) ListChannels(_ context.Context, inboxID string) ([]*domain.Channel, error) {
	out := s.filterChannels(inboxID, false)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// ListActiveChannels 列出收件箱的启用渠道，按创建时间正序
func (s *Store) ListActiveChannels(_ context.Context, inboxID string) ([]*domain.Channel, error) {
	out := s.filterChannels(inboxID, true)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) filterChannels(inboxID string, activeOnly bool) []*domain.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Channel
	for _, ch := range s.channels {
		if ch.InboxID != inboxID || (activeOnly && !ch.IsActive) {
			continue
		}
		out = append(out, cloneChannel(ch))
	}
	return out
}

// UpdateChannel 更新渠道
func (s *Store) UpdateChannel(_ context.Context, ch *domain.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.channels[ch.ID]
	if !ok || existing.InboxID != ch.InboxID {
		return domain.ErrNotFound
	}
	s.channels[ch.ID] = cloneChannel(ch)
	return nil
}

// DeleteChannel 删除渠道
func (s *Store) DeleteChannel(_ context.Context, inboxID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[id]
	if !ok || ch.InboxID != inboxID {
		return domain.ErrNotFound
	}
	delete(s.channels, id)
	return nil
}

// ========== 邮件服务商 ==========

func scopeKey(inboxID *string) string {
	if inboxID == nil {
		return ""
	}
	return *inboxID
}

// GetActiveProvider 获取作用域内启用的服务商
func (s *Store) GetActiveProvider(_ context.Context, inboxID *string) (*domain.EmailProvider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.providers[scopeKey(inboxID)]
	if !ok || !p.IsActive {
		return nil, domain.ErrNotFound
	}
	return cloneProvider(p), nil
}

// ReplaceProvider 替换作用域内的服务商
func (s *Store) ReplaceProvider(_ context.Context, p *domain.EmailProvider) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.InboxID != nil {
		if _, ok := s.inboxes[*p.InboxID]; !ok {
			return domain.ErrNotFound
		}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.providers[scopeKey(p.InboxID)] = cloneProvider(p)
	return nil
}

// DeleteProvider 删除作用域内的服务商
func (s *Store) DeleteProvider(_ context.Context, inboxID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.providers, scopeKey(inboxID))
	return nil
}

// ========== 事件 ==========

// AppendEvent 追加一条事件
func (s *Store) AppendEvent(_ context.Context, ev *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inboxes[ev.InboxID]; !ok {
		return domain.ErrNotFound
	}
	cp := *ev
	s.events[ev.InboxID] = append(s.events[ev.InboxID], &cp)
	return nil
}

// ListEvents 分页列出事件，最新的在前
func (s *Store) ListEvents(_ context.Context, inboxID string, limit, offset int) ([]*domain.Event, int64, error) {
	s.mu.RLock()
	src := s.events[inboxID]
	all := make([]*domain.Event, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		cp := *src[i]
		all = append(all, &cp)
	}
	s.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].ReceivedAt.After(all[j].ReceivedAt) })
	return paginate(all, limit, offset), int64(len(all)), nil
}

// DeleteEventsBefore 删除早于 cutoff 的事件，返回删除数量
func (s *Store) DeleteEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for inboxID, list := range s.events {
		kept := list[:0]
		for _, ev := range list {
			if ev.ReceivedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, ev)
		}
		s.events[inboxID] = kept
	}
	return removed, nil
}

// ========== 工具方法 ==========

// Close 内存存储不需要关闭连接
func (s *Store) Close() error { return nil }

// Health 内存存储总是健康的
func (s *Store) Health(context.Context) error { return nil }

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) || offset < 0 {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func cloneAPIKey(k *domain.APIKey) *domain.APIKey {
	cp := *k
	cp.Scopes = append([]string(nil), k.Scopes...)
	if k.KeyPrefix != nil {
		p := *k.KeyPrefix
		cp.KeyPrefix = &p
	}
	if k.LastUsedAt != nil {
		t := *k.LastUsedAt
		cp.LastUsedAt = &t
	}
	return &cp
}

func cloneChannel(ch *domain.Channel) *domain.Channel {
	cp := *ch
	cp.Config = cloneMap(ch.Config)
	return &cp
}

func cloneProvider(p *domain.EmailProvider) *domain.EmailProvider {
	cp := *p
	cp.Config = cloneMap(p.Config)
	if p.InboxID != nil {
		id := *p.InboxID
		cp.InboxID = &id
	}
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
