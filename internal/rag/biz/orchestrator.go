package biz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/infra/pool"
	"github.com/kart-io/sentinel-rag/pkg/infra/tracing"
	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/resilience"
	utilerrors "github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// State 查询状态。
type State string

const (
	StateReceived   State = "received"
	StateCacheCheck State = "cache_check"
	StateEmbedding  State = "embedding"
	StateRetrieval  State = "retrieval"
	StateAssembly   State = "assembly"
	StateGeneration State = "generation"
	StateCacheWrite State = "cache_write"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

const tracerName = "github.com/kart-io/sentinel-rag/internal/rag/biz"

// Submitter 批量问答使用的协程池。
type Submitter interface {
	Submit(task func()) error
}

// OrchestratorConfig 编排器配置。
type OrchestratorConfig struct {
	// Collection 集合名称，仅用于统计。
	Collection string
	// MaxContextLength 上下文字符预算。
	MaxContextLength int
	// QueryTimeout 调用方未指定截止时间时使用的整体超时。
	QueryTimeout time.Duration
	// MaxBatchSize 批量问答最多问题数。
	MaxBatchSize int
	// CacheTTL 答案缓存有效期。
	CacheTTL time.Duration
}

// Dependencies 编排器依赖。Pool、Breakers、Metrics、Tracer 可以为空。
type Dependencies struct {
	Cache     *CacheLayer
	Embedder  llm.EmbeddingProvider
	Retriever *VectorRetriever
	Generator *AnswerGenerator
	Limiter   *GenerationLimiter
	Pool      Submitter
	Breakers  *resilience.Registry
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
}

// QueryOrchestrator 按固定状态顺序执行查询：
// 缓存 -> 向量化 -> 检索 -> 组装 -> 生成 -> 写缓存。
type QueryOrchestrator struct {
	deps      Dependencies
	config    OrchestratorConfig
	assembler ContextAssembler
	now       func() time.Time
}

// NewQueryOrchestrator 创建编排器。
func NewQueryOrchestrator(deps Dependencies, config OrchestratorConfig) (*QueryOrchestrator, error) {
	switch {
	case deps.Embedder == nil:
		return nil, errors.New("embedder is required")
	case deps.Retriever == nil:
		return nil, errors.New("retriever is required")
	case deps.Generator == nil:
		return nil, errors.New("generator is required")
	case deps.Limiter == nil:
		return nil, errors.New("generation limiter is required")
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = 330 * time.Second
	}
	if config.MaxBatchSize <= 0 {
		config.MaxBatchSize = 10
	}
	return &QueryOrchestrator{deps: deps, config: config, now: time.Now}, nil
}

// queryRun 单次查询的可变状态。
type queryRun struct {
	q        Query
	key      string
	useCache bool
	latency  map[State]time.Duration
	state    State
}

// Answer 回答一个问题。deadline 为零值时使用默认整体超时。
// 返回的错误只有 ErrInvalidInput、ErrDeadlineExceeded 和 ErrOverloaded。
func (o *QueryOrchestrator) Answer(ctx context.Context, question string, params Parameters, deadline time.Time) (*Answer, error) {
	start := o.now()
	if deadline.IsZero() {
		deadline = start.Add(o.config.QueryTimeout)
	}

	q, err := NewQuery(question, params, deadline)
	if err != nil {
		o.deps.Metrics.RecordQuery(metrics.StatusError, o.now().Sub(start))
		return nil, err
	}

	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	ctx, span := o.deps.Tracer.Start(ctx, "rag.answer", trace.WithAttributes(
		attribute.String("rag.query_id", q.ID),
		attribute.Int("rag.top_k", q.Params.TopK),
	))
	defer span.End()

	run := &queryRun{
		q:        q,
		useCache: q.Params.UseCache && o.deps.Cache.Enabled(),
		latency:  map[State]time.Duration{StateReceived: o.now().Sub(start)},
		state:    StateReceived,
	}

	ans, err := o.execute(ctx, run)
	elapsed := o.now().Sub(start)
	if err != nil {
		err = o.queryError(ctx, err)
		tracing.RecordError(ctx, err)
		o.deps.Metrics.RecordQuery(metrics.StatusError, elapsed)
		logger.Warnw("query failed",
			"query_id", q.ID,
			"state", string(run.state),
			"elapsed", elapsed,
			"error", err.Error(),
		)
		return nil, err
	}

	ans.Latency = LatencyBreakdown{Stages: run.latency, Total: elapsed}
	span.SetAttributes(
		attribute.Bool("rag.cache_hit", ans.CacheHit),
		attribute.Bool("rag.degraded", ans.Degraded || ans.RetrievalStats.Degraded),
	)

	status := metrics.StatusSuccess
	switch {
	case ans.CacheHit:
		status = metrics.StatusCacheHit
	case ans.Degraded || ans.RetrievalStats.Degraded:
		status = metrics.StatusDegraded
	}
	o.deps.Metrics.RecordQuery(status, elapsed)

	logger.Infow("query answered",
		"query_id", q.ID,
		"status", status,
		"sources", len(ans.Sources),
		"confidence", ans.Confidence,
		"elapsed", elapsed,
	)
	return ans, nil
}

func (o *QueryOrchestrator) execute(ctx context.Context, run *queryRun) (*Answer, error) {
	q := run.q

	// 1. 缓存检查
	var cached *Answer
	if run.useCache {
		run.key = o.deps.Cache.Key(q)
		if err := o.step(ctx, run, StateCacheCheck, func(ctx context.Context) error {
			if a, ok := o.deps.Cache.Get(ctx, run.key); ok {
				cached = a
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}
	if cached != nil {
		cached.QueryID = q.ID
		cached.Question = q.Raw
		cached.CacheHit = true
		run.state = StateDone
		return cached, nil
	}

	// 2. 问题向量化，向量服务不可用时跳过检索
	var embedding []float32
	embedDegraded := false
	if err := o.step(ctx, run, StateEmbedding, func(ctx context.Context) error {
		v, err := o.deps.Embedder.EmbedSingle(ctx, q.Raw)
		if err == nil {
			embedding = v
			return nil
		}
		switch {
		case ctx.Err() != nil || resilience.KindOf(err) == resilience.KindDeadline:
			return err
		case resilience.KindOf(err) == resilience.KindInvalidInput:
			return utilerrors.ErrInvalidInput.WithCause(err)
		}
		logger.Warnw("embedding unavailable, retrieval degraded",
			"query_id", q.ID,
			"kind", resilience.KindOf(err).String(),
			"error", err.Error(),
		)
		o.deps.Metrics.RecordDegraded("embedding")
		embedDegraded = true
		return nil
	}); err != nil {
		return nil, err
	}

	// 3. 检索
	retrieval := RetrievalResult{
		Degraded: embedDegraded,
		Stats: RetrievalStats{
			SimilarityThreshold: q.Params.SimilarityThreshold,
			Degraded:            embedDegraded,
		},
	}
	if !embedDegraded {
		if err := o.step(ctx, run, StateRetrieval, func(ctx context.Context) error {
			res, err := o.deps.Retriever.Retrieve(ctx, embedding, q.Params.TopK, q.Params.SimilarityThreshold)
			retrieval = res
			return err
		}); err != nil {
			return nil, err
		}
	}

	// 4. 组装上下文，没有片段达到阈值时使用最相似的一个并标记低置信度
	var pc Context
	if err := o.step(ctx, run, StateAssembly, func(context.Context) error {
		fragments := retrieval.Fragments
		fallback := false
		if len(fragments) == 0 && retrieval.Fallback != nil {
			fragments = []store.Fragment{*retrieval.Fallback}
			fallback = true
		}
		pc = o.assembler.Assemble(fragments, o.config.MaxContextLength)
		pc.LowConfidence = pc.LowConfidence || fallback
		pc.Degraded = retrieval.Degraded
		return nil
	}); err != nil {
		return nil, err
	}

	// 5. 生成
	var ans *Answer
	if err := o.step(ctx, run, StateGeneration, func(ctx context.Context) error {
		release, err := o.deps.Limiter.Acquire(ctx)
		if err != nil {
			return err
		}
		defer release()

		ans, err = o.deps.Generator.Generate(ctx, q, pc)
		return err
	}); err != nil {
		return nil, err
	}
	ans.RetrievalStats = retrieval.Stats
	if ans.Degraded {
		o.deps.Metrics.RecordDegraded("generation")
	}

	// 6. 写缓存：降级答案与检索降级的答案都不缓存
	if run.useCache && !ans.Degraded && !retrieval.Degraded {
		if err := o.step(ctx, run, StateCacheWrite, func(ctx context.Context) error {
			return o.deps.Cache.Put(ctx, run.key, ans, o.config.CacheTTL)
		}); err != nil {
			return nil, err
		}
	}

	run.state = StateDone
	return ans, nil
}

// step 执行一个状态：进入前后都检查截止时间，并记录耗时与 Span。
func (o *QueryOrchestrator) step(ctx context.Context, run *queryRun, state State, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	run.state = state

	sctx, span := o.deps.Tracer.Start(ctx, "rag."+string(state))
	start := o.now()
	err := fn(sctx)
	elapsed := o.now().Sub(start)
	if err != nil {
		tracing.RecordError(sctx, err)
	}
	span.End()

	run.latency[state] = elapsed
	o.deps.Metrics.RecordStage(string(state), elapsed)

	if err != nil {
		return err
	}
	return ctx.Err()
}

// queryError 把内部错误映射为对外错误。已登记的错误码原样返回，其余都视为截止时间到达。
func (o *QueryOrchestrator) queryError(ctx context.Context, err error) error {
	var errno *utilerrors.Errno
	if errors.As(err, &errno) {
		return errno
	}
	if ctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		logger.Errorw("unexpected query error", "error", err.Error())
	}
	return utilerrors.ErrDeadlineExceeded.WithCause(err)
}

// AnswerBatch 并发回答多个问题，所有问题共享同一截止时间。
// 问题数不合法时返回 ErrInvalidInput；单个问题的失败记录在对应结果中。
func (o *QueryOrchestrator) AnswerBatch(ctx context.Context, questions []string, params Parameters, deadline time.Time) ([]BatchResult, error) {
	if len(questions) == 0 || len(questions) > o.config.MaxBatchSize {
		return nil, utilerrors.ErrInvalidInput.WithMessagef(
			"batch must contain 1 to %d questions, got %d", o.config.MaxBatchSize, len(questions))
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if deadline.IsZero() {
		deadline = o.now().Add(o.config.QueryTimeout)
	}

	ctx, span := o.deps.Tracer.Start(ctx, "rag.answer_batch", trace.WithAttributes(
		attribute.Int("rag.batch_size", len(questions)),
	))
	defer span.End()

	results := make([]BatchResult, len(questions))
	var wg sync.WaitGroup
	for i, question := range questions {
		results[i] = BatchResult{Index: i, Question: question}

		task := func() {
			defer wg.Done()
			a, err := o.Answer(ctx, question, params, deadline)
			results[i].Answer = a
			results[i].Err = err
		}

		wg.Add(1)
		if o.deps.Pool == nil {
			go task()
			continue
		}
		if err := o.deps.Pool.Submit(task); err != nil {
			wg.Done()
			logger.Warnw("batch question rejected by worker pool", "index", i, "error", err.Error())
			results[i].Err = utilerrors.ErrOverloaded.WithCause(err)
		}
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	logger.Infow("batch answered", "questions", len(questions), "failed", failed)
	return results, nil
}

// Stats 查询链路的运行状态。
type Stats struct {
	Collection        string                    `json:"collection"`
	Store             string                    `json:"store"`
	Fragments         int64                     `json:"fragments"`
	StoreError        string                    `json:"store_error,omitempty"`
	EmbeddingProvider string                    `json:"embedding_provider"`
	EmbeddingModel    string                    `json:"embedding_model"`
	ChatProvider      string                    `json:"chat_provider"`
	ChatModel         string                    `json:"chat_model"`
	CacheEnabled      bool                      `json:"cache_enabled"`
	SharedCache       bool                      `json:"shared_cache"`
	LocalCacheEntries int                       `json:"local_cache_entries"`
	Generation        LimiterStats              `json:"generation"`
	Breakers          []resilience.BreakerStats `json:"breakers,omitempty"`
	Pool              *pool.Stats               `json:"pool,omitempty"`
}

// Stats 返回运行状态。向量库不可用时记录错误而不是失败。
func (o *QueryOrchestrator) Stats(ctx context.Context) Stats {
	vs := o.deps.Retriever.Store()
	s := Stats{
		Collection:        o.config.Collection,
		Store:             vs.Name(),
		EmbeddingProvider: o.deps.Embedder.Name(),
		EmbeddingModel:    o.deps.Embedder.EmbeddingModel(),
		ChatProvider:      o.deps.Generator.Provider(),
		ChatModel:         o.deps.Generator.Model(),
		CacheEnabled:      o.deps.Cache.Enabled(),
		Generation:        o.deps.Limiter.Stats(),
	}
	if s.CacheEnabled {
		s.SharedCache = o.deps.Cache.Shared()
		s.LocalCacheEntries = o.deps.Cache.LocalEntries()
	}

	n, err := vs.Count(ctx)
	if err != nil {
		s.StoreError = fmt.Sprintf("count fragments: %v", err)
	}
	s.Fragments = n

	if o.deps.Breakers != nil {
		s.Breakers = o.deps.Breakers.Snapshot()
	}
	if p, ok := o.deps.Pool.(interface{ Stats() pool.Stats }); ok {
		ps := p.Stats()
		s.Pool = &ps
	}
	return s
}

// ClearCache 清空问答缓存，返回删除的条目数。
func (o *QueryOrchestrator) ClearCache(ctx context.Context) (int64, error) {
	if o.deps.Cache == nil {
		return 0, nil
	}
	return o.deps.Cache.Clear(ctx)
}
