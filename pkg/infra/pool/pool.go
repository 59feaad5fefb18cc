// Package pool 基于 ants 的协程池，用于并发执行批量问答。
package pool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	"github.com/panjf2000/ants/v2"

	options "github.com/kart-io/sentinel-rag/pkg/options/pool"
)

// Pool ants 协程池。
type Pool struct {
	name     string
	pool     *ants.Pool
	stats    statsCounter
	closed   atomic.Bool
	closedMu sync.Mutex
}

type statsCounter struct {
	submitted atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64
}

// Stats 协程池统计。
type Stats struct {
	Name      string `json:"name"`
	Capacity  int    `json:"capacity"`
	Running   int    `json:"running"`
	Waiting   int    `json:"waiting"`
	Submitted int64  `json:"submitted"`
	Completed int64  `json:"completed"`
	Rejected  int64  `json:"rejected"`
	Panics    int64  `json:"panics"`
}

// NewPool 创建协程池。
func NewPool(name string, opts *options.Options) (*Pool, error) {
	if opts == nil {
		opts = options.NewOptions()
	}

	p := &Pool{name: name}
	pool, err := ants.NewPool(opts.Capacity,
		ants.WithExpiryDuration(opts.ExpiryDuration),
		ants.WithNonblocking(opts.Nonblocking),
		ants.WithMaxBlockingTasks(opts.MaxBlockingTasks),
		ants.WithPanicHandler(func(r interface{}) {
			p.stats.panics.Add(1)
			logger.Errorw("Worker panic recovered", "pool", name, "panic", r)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("创建 ants 池失败: %w", err)
	}
	p.pool = pool

	logger.Infow("Worker pool created",
		"name", name,
		"capacity", opts.Capacity,
		"nonblocking", opts.Nonblocking,
	)
	return p, nil
}

// Submit 提交任务。池满且非阻塞时返回 ErrPoolOverload。
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	err := p.pool.Submit(func() {
		defer p.stats.completed.Add(1)
		task()
	})
	if err != nil {
		p.stats.rejected.Add(1)
		switch {
		case errors.Is(err, ants.ErrPoolOverload):
			return ErrPoolOverload
		case errors.Is(err, ants.ErrPoolClosed):
			return ErrPoolClosed
		default:
			return err
		}
	}
	p.stats.submitted.Add(1)
	return nil
}

// Stats 返回统计快照。
func (p *Pool) Stats() Stats {
	return Stats{
		Name:      p.name,
		Capacity:  p.pool.Cap(),
		Running:   p.pool.Running(),
		Waiting:   p.pool.Waiting(),
		Submitted: p.stats.submitted.Load(),
		Completed: p.stats.completed.Load(),
		Rejected:  p.stats.rejected.Load(),
		Panics:    p.stats.panics.Load(),
	}
}

// Release 等待至多 timeout 让正在运行的任务结束，然后关闭池。
func (p *Pool) Release(timeout time.Duration) error {
	p.closedMu.Lock()
	defer p.closedMu.Unlock()

	if p.closed.Load() {
		return nil
	}
	p.closed.Store(true)

	if err := p.pool.ReleaseTimeout(timeout); err != nil {
		logger.Warnw("Worker pool release timed out", "name", p.name, "error", err.Error())
		return err
	}
	logger.Infow("Worker pool released", "name", p.name)
	return nil
}
