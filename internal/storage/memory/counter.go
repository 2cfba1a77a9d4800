package memory

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCounterUnavailable 模拟计数存储不可用
var ErrCounterUnavailable = errors.New("counter store unavailable")

// counterEntry 计数条目
type counterEntry struct {
	Count     int64
	ExpiresAt time.Time // 零值表示不过期
}

// windowEntry 滑动窗口条目
type windowEntry struct {
	Stamps    []time.Time
	ExpiresAt time.Time
}

// sweepInterval 两次全量清理过期键的最小间隔
const sweepInterval = time.Minute

// Counter 内存版计数存储，语义与 Redis 实现一致，用于开发和测试。
// 写操作顺带清理所有已过期的键，不活跃来源的条目不会一直留在内存中。
type Counter struct {
	mu        sync.Mutex
	counters  map[string]*counterEntry
	windows   map[string]*windowEntry
	now       func() time.Time
	down      bool
	lastSweep time.Time
}

// NewCounter 创建内存计数存储
func NewCounter() *Counter {
	return &Counter{
		counters: make(map[string]*counterEntry),
		windows:  make(map[string]*windowEntry),
		now:      time.Now,
	}
}

// SetClock 替换时钟，测试时用于模拟时间流逝
func (c *Counter) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// SetUnavailable 模拟存储故障，之后的所有操作返回 ErrCounterUnavailable
func (c *Counter) SetUnavailable(down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = down
}

// IncrWithExpiry 自增计数，首次自增时设置过期时间
func (c *Counter) IncrWithExpiry(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return 0, ErrCounterUnavailable
	}

	now := c.now()
	c.sweep(now)
	entry, ok := c.counters[key]
	if !ok || entry.expired(now) {
		entry = &counterEntry{}
		c.counters[key] = entry
	}
	entry.Count++
	if entry.Count == 1 && ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	return entry.Count, nil
}

// Get 读取计数
func (c *Counter) Get(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return 0, ErrCounterUnavailable
	}

	entry, ok := c.counters[key]
	if !ok || entry.expired(c.now()) {
		return 0, nil
	}
	return entry.Count, nil
}

// Del 删除键
func (c *Counter) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return ErrCounterUnavailable
	}

	for _, k := range keys {
		delete(c.counters, k)
		delete(c.windows, k)
	}
	return nil
}

// SlidingWindow 滑动窗口计数，返回写入当前时间戳之前的数量
func (c *Counter) SlidingWindow(_ context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return 0, ErrCounterUnavailable
	}

	c.sweep(now)
	entry, ok := c.windows[key]
	if !ok || entry.expired(now) {
		entry = &windowEntry{}
		c.windows[key] = entry
	}

	// 与 ZREMRANGEBYSCORE 0 start 一致：分数不大于窗口起点的记录被清除
	start := now.Add(-window)
	kept := entry.Stamps[:0]
	for _, ts := range entry.Stamps {
		if ts.After(start) {
			kept = append(kept, ts)
		}
	}
	entry.Stamps = kept

	count := int64(len(entry.Stamps))
	entry.Stamps = append(entry.Stamps, now)
	entry.ExpiresAt = now.Add(window + time.Second)
	return count, nil
}

// Ping 检查可用性
func (c *Counter) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.down {
		return ErrCounterUnavailable
	}
	return nil
}

// sweep 距上次清理超过 sweepInterval 时删除所有过期键，调用方持有锁
func (c *Counter) sweep(now time.Time) {
	if now.Sub(c.lastSweep) < sweepInterval {
		return
	}
	c.lastSweep = now
	for k, e := range c.counters {
		if e.expired(now) {
			delete(c.counters, k)
		}
	}
	for k, e := range c.windows {
		if e.expired(now) {
			delete(c.windows, k)
		}
	}
}

// Len 当前保存的键数量
func (c *Counter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.counters) + len(c.windows)
}

func (e *counterEntry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

func (e *windowEntry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}
