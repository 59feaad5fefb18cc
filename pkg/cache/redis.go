package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// scanBatch 每次 SCAN 返回的键数量提示。
const scanBatch = 500

// RedisTier 基于 Redis 的共享缓存，多个进程共用。
type RedisTier struct {
	client goredis.UniversalClient
}

var _ Tier = (*RedisTier)(nil)

// NewRedisTier 使用已建立的 Redis 连接创建共享缓存。
func NewRedisTier(client goredis.UniversalClient) *RedisTier {
	return &RedisTier{client: client}
}

// Name 返回层名称。
func (t *RedisTier) Name() string {
	return "redis"
}

// Get 读取键。
func (t *RedisTier) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := t.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// Set 写入键，ttl <= 0 表示不过期。
func (t *RedisTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := t.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete 删除键。
func (t *RedisTier) Delete(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Clear 使用 SCAN 分批删除以 prefix 开头的键，避免 KEYS 阻塞服务端。
func (t *RedisTier) Clear(ctx context.Context, prefix string) (int64, error) {
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := t.client.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("redis scan %s*: %w", prefix, err)
		}
		if len(keys) > 0 {
			n, err := t.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("redis del: %w", err)
			}
			deleted += n
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}
