package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/pkg/cache"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

// EmbeddingCacheConfig Embedding 缓存配置。
type EmbeddingCacheConfig struct {
	// TTL 缓存过期时间。
	TTL time.Duration
	// KeyPrefix 缓存键前缀。
	KeyPrefix string
}

// DefaultEmbeddingCacheConfig 返回默认配置。同一文本的向量不会变化，可以缓存较长时间。
func DefaultEmbeddingCacheConfig() EmbeddingCacheConfig {
	return EmbeddingCacheConfig{
		TTL:       24 * time.Hour,
		KeyPrefix: "emb:",
	}
}

// CachedEmbeddingProvider 为 Embedding 结果加一层缓存。缓存读写失败只记日志，不影响调用。
type CachedEmbeddingProvider struct {
	EmbeddingProvider
	tier   cache.Tier
	config EmbeddingCacheConfig
}

// NewCachedEmbeddingProvider 创建带缓存的 Embedding 供应商。tier 为 nil 时直接透传。
func NewCachedEmbeddingProvider(provider EmbeddingProvider, tier cache.Tier, config EmbeddingCacheConfig) *CachedEmbeddingProvider {
	return &CachedEmbeddingProvider{
		EmbeddingProvider: provider,
		tier:              tier,
		config:            config,
	}
}

func (c *CachedEmbeddingProvider) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(c.EmbeddingModel() + "\x00" + text))
	return c.config.KeyPrefix + hex.EncodeToString(hash[:])
}

// EmbedSingle 生成单个文本的向量，优先读取缓存。
func (c *CachedEmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if c.tier == nil {
		return c.EmbeddingProvider.EmbedSingle(ctx, text)
	}

	key := c.cacheKey(text)

	// 1. 尝试从缓存获取
	data, err := c.tier.Get(ctx, key)
	switch {
	case err == nil:
		var embedding []float32
		if err := json.Unmarshal(data, &embedding); err == nil && len(embedding) > 0 {
			logger.Debugw("embedding cache hit", "key", key)
			return embedding, nil
		}
	case !errors.Is(err, cache.ErrNotFound):
		logger.Warnw("embedding cache read failed", "key", key, "error", err.Error())
	}

	// 2. 调用底层供应商
	embedding, err := c.EmbeddingProvider.EmbedSingle(ctx, text)
	if err != nil {
		return nil, err
	}

	// 3. 写入缓存
	if data, err := json.Marshal(embedding); err == nil {
		if err := c.tier.Set(ctx, key, data, c.config.TTL); err != nil {
			logger.Warnw("embedding cache write failed", "key", key, "error", err.Error())
		}
	}
	return embedding, nil
}
