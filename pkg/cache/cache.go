// Package cache 提供问答缓存的存储层：进程内 LRU 和基于 Redis 的共享缓存。
// 两者实现相同的 Tier 接口，由上层按读穿、写穿策略组合。
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound 键不存在或已过期。
var ErrNotFound = errors.New("cache: key not found")

// Tier 单层缓存。值为已编码的字节，ttl <= 0 表示不过期。
type Tier interface {
	// Get 读取键，未命中返回 ErrNotFound。
	Get(ctx context.Context, key string) ([]byte, error)
	// Set 写入键。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete 删除键，键不存在不是错误。
	Delete(ctx context.Context, key string) error
	// Clear 删除所有以 prefix 开头的键，返回删除数量。
	Clear(ctx context.Context, prefix string) (int64, error)
	// Name 返回层名称，用于日志和指标。
	Name() string
}
