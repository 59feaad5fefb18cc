package biz

import (
	"context"
	"sort"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/resilience"
	utilerrors "github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// RetrievalResult 检索结果。
type RetrievalResult struct {
	// Fragments 达到阈值的片段，按相似度降序。
	Fragments []store.Fragment
	// Fallback 没有片段达到阈值时，最相似的一个低于阈值的片段。
	Fallback *store.Fragment
	// Degraded 向量库不可用，结果为空。
	Degraded bool
	Stats    RetrievalStats
}

// VectorRetriever 通过 resilience.Client 访问向量库并按阈值过滤。
type VectorRetriever struct {
	store   store.VectorStore
	client  *resilience.Client
	metrics *metrics.Metrics
}

// NewVectorRetriever 创建检索器。
func NewVectorRetriever(vs store.VectorStore, client *resilience.Client, m *metrics.Metrics) *VectorRetriever {
	return &VectorRetriever{store: vs, client: client, metrics: m}
}

// Store 返回底层向量库。
func (r *VectorRetriever) Store() store.VectorStore {
	return r.store
}

// Retrieve 检索与 embedding 最相似的至多 topK 个片段。
// 向量库熔断或重试耗尽时返回降级结果而不是错误；只有调用方截止时间到达才返回错误。
func (r *VectorRetriever) Retrieve(ctx context.Context, embedding []float32, topK int, threshold float64) (RetrievalResult, error) {
	result := RetrievalResult{Stats: RetrievalStats{SimilarityThreshold: threshold}}

	fragments, err := resilience.Do(ctx, r.client, func(ctx context.Context) ([]store.Fragment, error) {
		return r.store.Search(ctx, embedding, topK)
	})
	if err != nil {
		switch {
		case ctx.Err() != nil || resilience.KindOf(err) == resilience.KindDeadline:
			return result, err
		case resilience.KindOf(err) == resilience.KindInvalidInput:
			return result, utilerrors.ErrInvalidInput.WithCause(err)
		}
		logger.Warnw("vector store unavailable, retrieval degraded",
			"store", r.store.Name(),
			"kind", resilience.KindOf(err).String(),
			"error", err.Error(),
		)
		r.metrics.RecordDegraded("retrieval")
		result.Degraded = true
		result.Stats.Degraded = true
		return result, nil
	}

	ranked := rank(fragments)
	for i := range ranked {
		if ranked[i].Score >= threshold {
			result.Fragments = append(result.Fragments, ranked[i])
			continue
		}
		if result.Fallback == nil {
			fb := ranked[i]
			result.Fallback = &fb
		}
	}
	if topK > 0 && len(result.Fragments) > topK {
		result.Fragments = result.Fragments[:topK]
	}
	if len(result.Fragments) > 0 {
		result.Fallback = nil
	}

	result.Stats.Retrieved = len(result.Fragments)
	result.Stats.AvgSimilarity = avgScore(result.Fragments)
	r.metrics.RecordRetrieved(len(result.Fragments))

	logger.Debugw("retrieval completed",
		"returned", len(fragments),
		"kept", len(result.Fragments),
		"threshold", threshold,
		"fallback", result.Fallback != nil,
	)
	return result, nil
}

// rank 按相似度降序排序，同分按片段 ID 升序。
func rank(fragments []store.Fragment) []store.Fragment {
	out := append([]store.Fragment(nil), fragments...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func avgScore(fragments []store.Fragment) float64 {
	if len(fragments) == 0 {
		return 0
	}
	sum := 0.0
	for _, f := range fragments {
		sum += f.Score
	}
	return sum / float64(len(fragments))
}
