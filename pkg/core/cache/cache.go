package cache

import (
	"sync"
	"time"
)

// TTLCache 带过期时间的键值缓存接口（对外导出）
type TTLCache interface {
	// Set 设置缓存值
	// key: 缓存键
	// value: 缓存值
	// ttl: 有效期
	Set(key string, value interface{}, ttl time.Duration) error

	// Get 获取缓存值
	// 返回: 缓存值和是否存在（已过期视为不存在）
	Get(key string) (interface{}, bool)

	// Update 在同一把锁内读取并替换缓存值
	// fn 收到当前值（不存在或已过期时 ok=false），返回新值与新的过期时间
	Update(key string, fn func(current interface{}, ok bool) (interface{}, time.Time)) interface{}

	// Delete 删除缓存值
	Delete(key string) error

	// Clear 清空所有缓存
	Clear() error
}

// cacheEntry 缓存条目（内部使用）
type cacheEntry struct {
	value      interface{}
	expireTime time.Time
}

// MemoryCache 内存TTL缓存实现（对外导出）
type MemoryCache struct {
	mu       sync.RWMutex
	cache    map[string]*cacheEntry
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// Option 缓存选项
type Option func(*MemoryCache)

// WithClock 替换判断过期所用的时间源
// 调用方按自己的时钟计算过期时间（Update）时，缓存必须使用同一个时钟
func WithClock(now func() time.Time) Option {
	return func(c *MemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryCache 创建内存缓存实例（对外导出）
// sweepInterval: 过期条目清理周期，<=0 时使用1分钟
func NewMemoryCache(sweepInterval time.Duration, opts ...Option) *MemoryCache {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	c := &MemoryCache{
		cache:    make(map[string]*cacheEntry),
		interval: sweepInterval,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	// 启动清理协程，定期清理过期缓存
	go c.cleanupExpired()
	return c
}

// Set 设置缓存值
func (c *MemoryCache) Set(key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return nil // 空key，忽略
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache[key] = &cacheEntry{
		value:      value,
		expireTime: c.now().Add(ttl),
	}
	return nil
}

// Get 获取缓存值
func (c *MemoryCache) Get(key string) (interface{}, bool) {
	if key == "" {
		return nil, false
	}

	c.mu.RLock()
	entry, exists := c.cache[key]
	c.mu.RUnlock()
	if !exists {
		return nil, false
	}

	// 已过期，删除并返回不存在
	if c.now().After(entry.expireTime) {
		c.mu.Lock()
		if cur, ok := c.cache[key]; ok && cur == entry {
			delete(c.cache, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	return entry.value, true
}

// Update 原子地读取-修改-写入
func (c *MemoryCache) Update(key string, fn func(current interface{}, ok bool) (interface{}, time.Time)) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	var current interface{}
	ok := false
	if entry, exists := c.cache[key]; exists && !c.now().After(entry.expireTime) {
		current, ok = entry.value, true
	}

	value, expireTime := fn(current, ok)
	c.cache[key] = &cacheEntry{value: value, expireTime: expireTime}
	return value
}

// Delete 删除缓存值
func (c *MemoryCache) Delete(key string) error {
	if key == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.cache, key)
	return nil
}

// Clear 清空所有缓存
func (c *MemoryCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[string]*cacheEntry)
	return nil
}

// Len 当前条目数（包含尚未清理的过期条目）
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Sweep 立即清理过期条目，返回清理数量
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.cache {
		if now.After(entry.expireTime) {
			delete(c.cache, key)
			removed++
		}
	}
	return removed
}

// Stop 停止清理协程
func (c *MemoryCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

// cleanupExpired 清理过期缓存（内部方法）
func (c *MemoryCache) cleanupExpired() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stopCh:
			return
		}
	}
}

var _ TTLCache = (*MemoryCache)(nil)
