package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

// LocalTier 进程内 LRU 缓存，容量固定，超出时淘汰最久未使用的键。
type LocalTier struct {
	cache *lru.Cache[string, localEntry]
	now   func() time.Time
}

var _ Tier = (*LocalTier)(nil)

// NewLocalTier 创建容量为 size 的本地缓存。now 为 nil 时使用 time.Now。
func NewLocalTier(size int, now func() time.Time) (*LocalTier, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache: local size must be positive, got %d", size)
	}
	c, err := lru.New[string, localEntry](size)
	if err != nil {
		return nil, fmt.Errorf("cache: create lru: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &LocalTier{cache: c, now: now}, nil
}

// Name 返回层名称。
func (t *LocalTier) Name() string {
	return "local"
}

// Get 读取键并刷新其最近使用时间。过期的键会被删除。
func (t *LocalTier) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := t.cache.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	if !e.expiresAt.IsZero() && !t.now().Before(e.expiresAt) {
		t.cache.Remove(key)
		return nil, ErrNotFound
	}
	return e.value, nil
}

// Set 写入键，必要时淘汰最久未使用的键。
func (t *LocalTier) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := localEntry{value: value}
	if ttl > 0 {
		e.expiresAt = t.now().Add(ttl)
	}
	t.cache.Add(key, e)
	return nil
}

// Delete 删除键。
func (t *LocalTier) Delete(_ context.Context, key string) error {
	t.cache.Remove(key)
	return nil
}

// Clear 删除以 prefix 开头的键。
func (t *LocalTier) Clear(_ context.Context, prefix string) (int64, error) {
	var n int64
	for _, key := range t.cache.Keys() {
		if strings.HasPrefix(key, prefix) && t.cache.Remove(key) {
			n++
		}
	}
	return n, nil
}

// Contains 报告键是否存在，不刷新最近使用时间。
func (t *LocalTier) Contains(key string) bool {
	return t.cache.Contains(key)
}

// Len 返回当前条目数。
func (t *LocalTier) Len() int {
	return t.cache.Len()
}
