package resilience

import (
	"sort"
	"sync"
)

// Registry 进程内按后端名称持有熔断器。由应用创建后注入各 Client，
// 保证绑定同一后端的 Client 共享同一份状态。
type Registry struct {
	cfg  BreakerConfig
	opts []Option

	mu        sync.RWMutex
	breakers  map[string]*Breaker
	overrides map[string]BreakerConfig
}

// NewRegistry 创建熔断器注册表。
func NewRegistry(cfg BreakerConfig, opts ...Option) *Registry {
	return &Registry{
		cfg:       cfg,
		opts:      opts,
		breakers:  make(map[string]*Breaker),
		overrides: make(map[string]BreakerConfig),
	}
}

// Configure 为某个后端设置独立配置，必须在首次 Get 之前调用。
func (r *Registry) Configure(backend string, cfg BreakerConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[backend] = cfg
}

// Get 返回后端的熔断器，不存在时创建。
func (r *Registry) Get(backend string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[backend]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[backend]; ok {
		return b
	}
	cfg := r.cfg
	if o, ok := r.overrides[backend]; ok {
		cfg = o
	}
	b = NewBreaker(backend, cfg, r.opts...)
	r.breakers[backend] = b
	return b
}

// Snapshot 返回所有熔断器的快照，按后端名称排序。
func (r *Registry) Snapshot() []BreakerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]BreakerStats, 0, len(r.breakers))
	for _, b := range r.breakers {
		stats = append(stats, b.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Backend < stats[j].Backend })
	return stats
}
