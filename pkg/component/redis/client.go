// Package redis 提供共享缓存使用的 Redis 连接。
package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	options "github.com/kart-io/sentinel-rag/pkg/options/redis"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// Client 包装 go-redis 客户端。
type Client struct {
	client *goredis.Client
	opts   *options.Options
}

// New 创建客户端并通过 PING 验证连通性。
func New(ctx context.Context, opts *options.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("redis options cannot be nil")
	}
	if err := utilerrors.NewAggregate(opts.Validate()); err != nil {
		return nil, fmt.Errorf("invalid redis options: %w", err)
	}

	// go-redis 中 0 表示默认 3 次，-1 才是不重试
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = -1
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr(),
		Password:     opts.Password,
		DB:           opts.Database,
		MaxRetries:   maxRetries,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolTimeout:  opts.PoolTimeout,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", opts.Addr(), err)
	}

	return &Client{client: rdb, opts: opts}, nil
}

// Client 返回底层客户端。
func (c *Client) Client() goredis.UniversalClient {
	return c.client
}

// Ping 检查连通性。
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close 关闭连接池。
func (c *Client) Close() error {
	return c.client.Close()
}
