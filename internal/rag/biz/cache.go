package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/pkg/cache"
	"github.com/kart-io/sentinel-rag/pkg/resilience"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

// CacheVersion 缓存条目格式版本，版本不同的条目视为未命中。
const CacheVersion = 1

// CacheConfig 问答缓存配置。
type CacheConfig struct {
	// Enabled 是否启用缓存。
	Enabled bool
	// TTL 缓存过期时间。
	TTL time.Duration
	// KeyPrefix 缓存键前缀。
	KeyPrefix string
}

// cacheEntry 缓存中保存的内容。
type cacheEntry struct {
	Version   int           `json:"version"`
	Key       string        `json:"key"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
	Answer    *Answer       `json:"answer"`
}

func (e *cacheEntry) expired(now time.Time) bool {
	return e.TTL > 0 && !now.Before(e.CreatedAt.Add(e.TTL))
}

// CacheOption 配置 CacheLayer。
type CacheOption func(*CacheLayer)

// WithCacheClock 替换时间源。
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *CacheLayer) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCacheMetrics 设置指标。
func WithCacheMetrics(m *metrics.Metrics) CacheOption {
	return func(c *CacheLayer) {
		c.metrics = m
	}
}

// WithSharedClient 让共享层调用经过 resilience.Client（超时与熔断）。
func WithSharedClient(client *resilience.Client) CacheOption {
	return func(c *CacheLayer) {
		c.sharedClient = client
	}
}

// CacheLayer 两级问答缓存：进程内 LRU 在前，共享缓存为准。
// shared 为 nil 时只使用本地层。
type CacheLayer struct {
	local        cache.Tier
	shared       cache.Tier
	sharedClient *resilience.Client
	config       CacheConfig
	now          func() time.Time
	metrics      *metrics.Metrics
}

// NewCacheLayer 创建缓存层。
func NewCacheLayer(local, shared cache.Tier, config CacheConfig, opts ...CacheOption) *CacheLayer {
	c := &CacheLayer{
		local:  local,
		shared: shared,
		config: config,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled 是否启用缓存。
func (c *CacheLayer) Enabled() bool {
	return c != nil && c.config.Enabled && c.local != nil
}

// Shared 是否配置了共享层。
func (c *CacheLayer) Shared() bool {
	return c.shared != nil
}

// LocalEntries 返回本地层当前条目数，本地层不支持计数时返回 0。
func (c *CacheLayer) LocalEntries() int {
	if c == nil {
		return 0
	}
	if l, ok := c.local.(interface{ Len() int }); ok {
		return l.Len()
	}
	return 0
}

// Key 由归一化问题与检索参数生成缓存键。
func (c *CacheLayer) Key(q Query) string {
	raw := fmt.Sprintf("%s|k=%d|t=%.4f", q.Normalized, q.Params.TopK, q.Params.SimilarityThreshold)
	sum := sha256.Sum256([]byte(raw))
	return c.config.KeyPrefix + hex.EncodeToString(sum[:])
}

// Get 读取缓存：先本地，未命中再读共享层并回填本地。共享层出错按未命中处理。
func (c *CacheLayer) Get(ctx context.Context, key string) (*Answer, bool) {
	if !c.Enabled() {
		return nil, false
	}

	// 1. 本地层
	if e := c.read(ctx, c.local, key); e != nil {
		c.metrics.RecordCache(c.local.Name(), "hit")
		return e.Answer.Clone(), true
	}
	c.metrics.RecordCache(c.local.Name(), "miss")

	if c.shared == nil {
		return nil, false
	}

	// 2. 共享层
	data, err := c.sharedGet(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			logger.Warnw("shared cache read failed, treating as miss", "key", key, "error", err.Error())
			c.metrics.RecordCache(c.shared.Name(), "error")
		} else {
			c.metrics.RecordCache(c.shared.Name(), "miss")
		}
		return nil, false
	}
	e, ok := c.decode(data)
	if !ok {
		return nil, false
	}
	c.metrics.RecordCache(c.shared.Name(), "hit")

	// 3. 回填本地层，剩余有效期不变
	remaining := e.CreatedAt.Add(e.TTL).Sub(c.now())
	if err := c.local.Set(ctx, key, data, remaining); err != nil {
		logger.Debugw("local cache backfill failed", "key", key, "error", err.Error())
	}
	return e.Answer.Clone(), true
}

// read 从一层读取并校验版本与有效期，过期条目会被删除。
func (c *CacheLayer) read(ctx context.Context, tier cache.Tier, key string) *cacheEntry {
	data, err := tier.Get(ctx, key)
	if err != nil {
		return nil
	}
	e, ok := c.decode(data)
	if !ok {
		_ = tier.Delete(ctx, key)
		return nil
	}
	return e
}

func (c *CacheLayer) decode(data []byte) (*cacheEntry, bool) {
	var e cacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		logger.Warnw("failed to decode cache entry", "error", err.Error())
		return nil, false
	}
	if e.Version != CacheVersion || e.Answer == nil || e.expired(c.now()) {
		return nil, false
	}
	return &e, true
}

// Put 写入缓存，错误只记录日志不返回。
func (c *CacheLayer) Put(ctx context.Context, key string, a *Answer, ttl time.Duration) error {
	if err := c.PutStrict(ctx, key, a, ttl); err != nil {
		logger.Warnw("cache write failed", "key", key, "error", err.Error())
	}
	return nil
}

// PutStrict 写入缓存：先共享层，成功后再写本地。共享层失败时不写本地并返回错误。
func (c *CacheLayer) PutStrict(ctx context.Context, key string, a *Answer, ttl time.Duration) error {
	if !c.Enabled() || a == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = c.config.TTL
	}

	stored := a.Clone()
	stored.CacheHit = false
	data, err := json.Marshal(&cacheEntry{
		Version:   CacheVersion,
		Key:       key,
		CreatedAt: c.now(),
		TTL:       ttl,
		Answer:    stored,
	})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	if c.shared != nil {
		if err := c.sharedSet(ctx, key, data, ttl); err != nil {
			return fmt.Errorf("shared cache write: %w", err)
		}
	}
	return c.local.Set(ctx, key, data, ttl)
}

// Invalidate 从两层删除一个键。
func (c *CacheLayer) Invalidate(ctx context.Context, key string) error {
	if c.local == nil {
		return nil
	}
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	if c.shared == nil {
		return nil
	}
	return c.sharedCall(ctx, func(ctx context.Context) error {
		return c.shared.Delete(ctx, key)
	})
}

// Clear 删除两层中所有带前缀的键，返回删除总数。
func (c *CacheLayer) Clear(ctx context.Context) (int64, error) {
	if c.local == nil {
		return 0, nil
	}
	n, err := c.local.Clear(ctx, c.config.KeyPrefix)
	if err != nil {
		return n, err
	}
	if c.shared == nil {
		return n, nil
	}

	var shared int64
	err = c.sharedCall(ctx, func(ctx context.Context) error {
		var cerr error
		shared, cerr = c.shared.Clear(ctx, c.config.KeyPrefix)
		return cerr
	})
	logger.Infow("cleared answer cache", "local", n, "shared", shared)
	return n + shared, err
}

func (c *CacheLayer) sharedGet(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	var found bool
	err := c.sharedCall(ctx, func(ctx context.Context) error {
		var gerr error
		data, gerr = c.shared.Get(ctx, key)
		if errors.Is(gerr, cache.ErrNotFound) {
			// 未命中不是后端故障
			return nil
		}
		found = gerr == nil
		return gerr
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, cache.ErrNotFound
	}
	return data, nil
}

func (c *CacheLayer) sharedSet(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return c.sharedCall(ctx, func(ctx context.Context) error {
		return c.shared.Set(ctx, key, data, ttl)
	})
}

func (c *CacheLayer) sharedCall(ctx context.Context, op func(ctx context.Context) error) error {
	if c.sharedClient == nil {
		return op(ctx)
	}
	return c.sharedClient.Call(ctx, op)
}
