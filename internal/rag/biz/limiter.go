package biz

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/kart-io/sentinel-rag/internal/rag/metrics"
	utilerrors "github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// GenerationLimiter 限制并发生成数与排队数，排队已满时立即拒绝。
type GenerationLimiter struct {
	sem      *semaphore.Weighted
	capacity int64
	maxQueue int64
	waiting  atomic.Int64
	inflight atomic.Int64
	rejected atomic.Int64
	metrics  *metrics.Metrics
}

// LimiterStats 限流器快照。
type LimiterStats struct {
	Capacity int64 `json:"capacity"`
	MaxQueue int64 `json:"max_queue"`
	InFlight int64 `json:"in_flight"`
	Waiting  int64 `json:"waiting"`
	Rejected int64 `json:"rejected"`
}

// NewGenerationLimiter 创建限流器。
func NewGenerationLimiter(maxConcurrent, maxQueue int, m *metrics.Metrics) *GenerationLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if maxQueue < 0 {
		maxQueue = 0
	}
	return &GenerationLimiter{
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		capacity: int64(maxConcurrent),
		maxQueue: int64(maxQueue),
		metrics:  m,
	}
}

// Acquire 获取一个生成许可。排队已满返回 ErrOverloaded；
// 排队期间 ctx 结束返回 ctx 的错误。成功时必须调用返回的 release。
func (l *GenerationLimiter) Acquire(ctx context.Context) (release func(), err error) {
	if !l.sem.TryAcquire(1) {
		if l.waiting.Add(1) > l.maxQueue {
			l.waiting.Add(-1)
			l.rejected.Add(1)
			return nil, utilerrors.ErrOverloaded
		}
		err := l.sem.Acquire(ctx, 1)
		l.waiting.Add(-1)
		if err != nil {
			return nil, err
		}
	}

	l.inflight.Add(1)
	l.metrics.GenerationStarted()

	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			l.inflight.Add(-1)
			l.metrics.GenerationFinished()
			l.sem.Release(1)
		}
	}, nil
}

// Stats 返回快照。
func (l *GenerationLimiter) Stats() LimiterStats {
	return LimiterStats{
		Capacity: l.capacity,
		MaxQueue: l.maxQueue,
		InFlight: l.inflight.Load(),
		Waiting:  l.waiting.Load(),
		Rejected: l.rejected.Load(),
	}
}
