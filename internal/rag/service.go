// Package ragsvc 组装问答服务：按配置创建各后端客户端并交给编排器。
package ragsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"
	"github.com/prometheus/client_golang/prometheus"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/cache"
	"github.com/kart-io/sentinel-rag/pkg/component/milvus"
	"github.com/kart-io/sentinel-rag/pkg/component/redis"
	"github.com/kart-io/sentinel-rag/pkg/infra/pool"
	"github.com/kart-io/sentinel-rag/pkg/infra/tracing"
	"github.com/kart-io/sentinel-rag/pkg/llm"
	// 注册 Ollama 与兼容 OpenAI API 的供应商
	_ "github.com/kart-io/sentinel-rag/pkg/llm/ollama"
	_ "github.com/kart-io/sentinel-rag/pkg/llm/openai"
	cacheopts "github.com/kart-io/sentinel-rag/pkg/options/cache"
	llmopts "github.com/kart-io/sentinel-rag/pkg/options/llm"
	logopts "github.com/kart-io/sentinel-rag/pkg/options/logger"
	milvusopts "github.com/kart-io/sentinel-rag/pkg/options/milvus"
	poolopts "github.com/kart-io/sentinel-rag/pkg/options/pool"
	ragopts "github.com/kart-io/sentinel-rag/pkg/options/rag"
	resilienceopts "github.com/kart-io/sentinel-rag/pkg/options/resilience"
	tracingopts "github.com/kart-io/sentinel-rag/pkg/options/tracing"
	"github.com/kart-io/sentinel-rag/pkg/resilience"
)

// Name 应用名称。
const Name = "sentinel-rag"

// 各后端在熔断器注册表中的名称。
const (
	backendEmbedding   = "embedding"
	backendVectorStore = "vector-store"
	backendLLM         = "llm"
	backendSharedCache = "shared-cache"
)

// Config 服务配置。
type Config struct {
	LogOptions        *logopts.Options
	TracingOptions    *tracingopts.Options
	MilvusOptions     *milvusopts.Options
	EmbeddingOptions  *llmopts.ProviderOptions
	ChatOptions       *llmopts.ProviderOptions
	RAGOptions        *ragopts.Options
	CacheOptions      *cacheopts.Options
	ResilienceOptions *resilienceopts.Options
	PoolOptions       *poolopts.Options
	// Version 写入日志与 Trace 的服务版本。
	Version string
	// Registerer 指标注册表，为空时使用独立注册表。
	Registerer prometheus.Registerer
}

// Service 问答服务。
type Service struct {
	orch     *biz.QueryOrchestrator
	defaults biz.Parameters
	registry *prometheus.Registry
	closers  []closer
	version  string

	// 健康检查直接访问的后端，不经过重试与熔断
	vs       store.VectorStore
	embed    llm.EmbeddingProvider
	chat     llm.ChatProvider
	redis    *redis.Client
	redisErr error
	cacheOn  bool
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// NewService 初始化日志、Trace、各后端客户端并创建编排器。
func (cfg *Config) NewService(ctx context.Context) (*Service, error) {
	s := &Service{version: cfg.Version, cacheOn: cfg.CacheOptions.Enabled}
	ok := false
	defer func() {
		if !ok {
			_ = s.Close(context.Background())
		}
	}()

	// 1. 初始化日志
	if err := cfg.LogOptions.Init(Name, cfg.Version); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Infow("starting rag service", "version", cfg.Version)

	// 2. 初始化 Trace
	if cfg.TracingOptions.ServiceVersion == "" {
		cfg.TracingOptions.ServiceVersion = cfg.Version
	}
	tp, err := tracing.NewProvider(ctx, cfg.TracingOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.onClose("tracing", tp.Shutdown)

	// 3. 指标与熔断器
	reg := cfg.Registerer
	if reg == nil {
		s.registry = prometheus.NewRegistry()
		reg = s.registry
	}
	m := metrics.New(reg)
	ropts := cfg.ResilienceOptions
	breakers := resilience.NewRegistry(ropts.BreakerConfig(), resilience.WithObserver(m))
	newClient := func(backend string, timeout time.Duration, retry resilience.RetryConfig) *resilience.Client {
		return resilience.NewClient(resilience.Config{
			Backend:     backend,
			CallTimeout: timeout,
			Retry:       retry,
		}, breakers.Get(backend), resilience.WithObserver(m))
	}
	// 共享缓存失败按未命中处理，只保留超时与熔断
	noRetry := ropts.RetryConfig()
	noRetry.MaxRetries = 0

	// 4. 缓存
	local, shared, err := s.newCacheTiers(ctx, cfg.CacheOptions)
	if err != nil {
		return nil, err
	}
	answerCache := biz.NewCacheLayer(local, shared, biz.CacheConfig{
		Enabled:   cfg.CacheOptions.Enabled,
		TTL:       cfg.CacheOptions.TTL,
		KeyPrefix: cfg.CacheOptions.KeyPrefix,
	},
		biz.WithCacheMetrics(m),
		biz.WithSharedClient(newClient(backendSharedCache, cfg.CacheOptions.CallTimeout, noRetry)),
	)

	// 5. 初始化 LLM 供应商
	embedTier, err := newEmbeddingTier(cfg.CacheOptions)
	if err != nil {
		return nil, err
	}
	embedder, err := s.newEmbedder(cfg.EmbeddingOptions, newClient(backendEmbedding, cfg.EmbeddingOptions.Timeout, ropts.RetryConfig()), embedTier)
	if err != nil {
		return nil, err
	}
	chat, err := llm.NewChatProvider(cfg.ChatOptions.Provider, cfg.ChatOptions.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat provider: %w", err)
	}
	s.chat = chat
	logger.Infow("llm providers initialized",
		"embedding", cfg.EmbeddingOptions.Provider+"/"+cfg.EmbeddingOptions.Model,
		"chat", cfg.ChatOptions.Provider+"/"+cfg.ChatOptions.Model,
	)

	// 6. 初始化向量库
	vs, err := s.newVectorStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.vs = vs

	// 7. 批量问答协程池
	batchPool, err := pool.NewPool("rag-batch", cfg.PoolOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize worker pool: %w", err)
	}
	s.onClose("pool", func(ctx context.Context) error {
		return batchPool.Release(remaining(ctx, 5*time.Second))
	})

	// 8. 初始化编排器
	ro := cfg.RAGOptions
	orch, err := biz.NewQueryOrchestrator(biz.Dependencies{
		Cache:     answerCache,
		Embedder:  embedder,
		Retriever: biz.NewVectorRetriever(vs, newClient(backendVectorStore, ropts.VectorStoreTimeout, ropts.RetryConfig()), m),
		Generator: biz.NewAnswerGenerator(
			llm.NewResilientChatProvider(chat, newClient(backendLLM, cfg.ChatOptions.Timeout, ropts.RetryConfig())),
			biz.GeneratorConfig{SystemPrompt: ro.SystemPrompt},
		),
		Limiter:  biz.NewGenerationLimiter(ro.MaxConcurrentGenerations, ro.MaxQueueDepth, m),
		Pool:     batchPool,
		Breakers: breakers,
		Metrics:  m,
		Tracer:   tp.Tracer("github.com/kart-io/sentinel-rag/internal/rag/biz"),
	}, biz.OrchestratorConfig{
		Collection:       ro.Collection,
		MaxContextLength: ro.MaxContextLength,
		QueryTimeout:     ro.QueryTimeout,
		MaxBatchSize:     ro.MaxBatchSize,
		CacheTTL:         cfg.CacheOptions.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	s.orch = orch
	s.defaults = biz.Parameters{
		TopK:                ro.TopK,
		SimilarityThreshold: ro.SimilarityThreshold,
		Temperature:         ro.Temperature,
		MaxTokens:           ro.MaxTokens,
		UseCache:            true,
	}
	ok = true
	logger.Infow("rag service is ready",
		"store", vs.Name(),
		"cache", cfg.CacheOptions.Enabled,
		"shared_cache", shared != nil,
	)
	return s, nil
}

// newCacheTiers 创建本地层与共享层。Redis 连接失败时只使用本地层。
func (s *Service) newCacheTiers(ctx context.Context, opts *cacheopts.Options) (*cache.LocalTier, cache.Tier, error) {
	local, err := cache.NewLocalTier(opts.LocalSize, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize local cache: %w", err)
	}
	if !opts.Enabled || !opts.SharedEnabled {
		logger.Infow("shared cache disabled", "cache", opts.Enabled)
		return local, nil, nil
	}

	client, err := redis.New(ctx, opts.Redis)
	if err != nil {
		logger.Warnw("failed to connect to redis, using local cache only",
			"addr", opts.Redis.Addr(),
			"error", err.Error(),
		)
		s.redisErr = err
		return local, nil, nil
	}
	s.redis = client
	s.onClose("redis", func(context.Context) error { return client.Close() })
	h := client.Health(ctx)
	logger.Infow("redis cache initialized",
		"addr", opts.Redis.Addr(),
		"ttl", opts.TTL,
		"ping_latency", h.Latency,
		"total_conns", h.TotalConns,
	)
	return local, cache.NewRedisTier(client.Client()), nil
}

// newEmbeddingTier 创建问题向量专用的本地缓存，与问答缓存分开计算容量。
// 缓存关闭或容量为 0 时返回 nil，向量调用直接透传。
func newEmbeddingTier(opts *cacheopts.Options) (cache.Tier, error) {
	if !opts.Enabled || opts.EmbeddingSize <= 0 {
		return nil, nil
	}
	tier, err := cache.NewLocalTier(opts.EmbeddingSize, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding cache: %w", err)
	}
	return tier, nil
}

// newEmbedder 创建 Embedding 供应商：缓存在外，重试与熔断在内。
func (s *Service) newEmbedder(opts *llmopts.ProviderOptions, client *resilience.Client, tier cache.Tier) (llm.EmbeddingProvider, error) {
	provider, err := llm.NewEmbeddingProvider(opts.Provider, opts.ToConfigMap())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	s.embed = provider
	resilient := llm.NewResilientEmbeddingProvider(provider, client)
	return llm.NewCachedEmbeddingProvider(resilient, tier, llm.DefaultEmbeddingCacheConfig()), nil
}

func (s *Service) newVectorStore(ctx context.Context, cfg *Config) (store.VectorStore, error) {
	ro := cfg.RAGOptions
	switch ro.Store {
	case ragopts.StoreMemory:
		vs, err := store.LoadMemoryStore(ro.Collection, ro.MemoryStorePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load memory store: %w", err)
		}
		n, _ := vs.Count(ctx)
		logger.Infow("memory store loaded", "path", ro.MemoryStorePath, "fragments", n)
		return vs, nil
	default:
		client, err := milvus.New(ctx, cfg.MilvusOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize milvus: %w", err)
		}
		s.onClose("milvus", client.Close)
		logger.Infow("milvus client initialized", "address", cfg.MilvusOptions.Address, "collection", ro.Collection)
		return store.NewMilvusStore(client, ro.Collection), nil
	}
}

func (s *Service) onClose(name string, fn func(ctx context.Context) error) {
	s.closers = append(s.closers, closer{name: name, fn: fn})
}

// DefaultParameters 返回配置中的默认查询参数。
func (s *Service) DefaultParameters() biz.Parameters {
	return s.defaults
}

// Answer 回答一个问题。deadline 为零值时使用配置的整体超时。
func (s *Service) Answer(ctx context.Context, question string, params biz.Parameters, deadline time.Time) (*biz.Answer, error) {
	return s.orch.Answer(ctx, question, params, deadline)
}

// AnswerBatch 并发回答多个问题。
func (s *Service) AnswerBatch(ctx context.Context, questions []string, params biz.Parameters, deadline time.Time) ([]biz.BatchResult, error) {
	return s.orch.AnswerBatch(ctx, questions, params, deadline)
}

// Stats 返回运行状态。
func (s *Service) Stats(ctx context.Context) biz.Stats {
	return s.orch.Stats(ctx)
}

// ClearCache 清空问答缓存。
func (s *Service) ClearCache(ctx context.Context) (int64, error) {
	return s.orch.ClearCache(ctx)
}

// Gatherer 返回服务自己的指标注册表，使用外部注册表时为 nil。
func (s *Service) Gatherer() prometheus.Gatherer {
	if s.registry == nil {
		return nil
	}
	return s.registry
}

// Close 按创建的逆序释放资源。
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		c := s.closers[i]
		if err := c.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	s.closers = nil
	return utilerrors.NewAggregate(errs)
}

func remaining(ctx context.Context, fallback time.Duration) time.Duration {
	if d, ok := ctx.Deadline(); ok {
		return max(time.Until(d), 0)
	}
	return fallback
}
