package ragsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/sentinel-rag/pkg/llm"
)

// 组件健康状态。
const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
	HealthDisabled  = "disabled"
	HealthUnknown   = "unknown"
)

// 健康报告中的组件名称。
const (
	ComponentVectorStore = "vector_store"
	ComponentEmbedding   = "embedding"
	ComponentLLM         = "llm"
	ComponentCache       = "cache"
)

// healthCheckTimeout 单个组件检查的超时。
const healthCheckTimeout = 5 * time.Second

// ComponentHealth 单个组件的检查结果。
type ComponentHealth struct {
	Status    string        `json:"status"`
	Latency   time.Duration `json:"latency"`
	Name      string        `json:"name,omitempty"`
	Model     string        `json:"model,omitempty"`
	Fragments int64         `json:"fragments,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// HealthReport 服务健康报告。
type HealthReport struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version"`
	CheckedAt  time.Time                  `json:"checked_at"`
	Components map[string]ComponentHealth `json:"components"`
}

// Healthy 报告整体是否健康。
func (r *HealthReport) Healthy() bool {
	return r.Status == HealthHealthy
}

// Health 直接探测各后端，不经过重试与熔断。
// 向量库、Embedding 或生成模型不可用时整体不健康；缓存只是加速层，不影响整体状态。
func (s *Service) Health(ctx context.Context) *HealthReport {
	r := &HealthReport{
		Status:     HealthHealthy,
		Version:    s.version,
		CheckedAt:  time.Now(),
		Components: make(map[string]ComponentHealth, 4),
	}

	r.Components[ComponentVectorStore] = s.checkVectorStore(ctx)
	r.Components[ComponentEmbedding] = checkProvider(ctx, s.embed, s.embed.Name(), s.embed.EmbeddingModel())
	r.Components[ComponentLLM] = checkProvider(ctx, s.chat, s.chat.Name(), s.chat.ChatModel())
	r.Components[ComponentCache] = s.checkCache(ctx)

	for name, c := range r.Components {
		if name != ComponentCache && c.Status == HealthUnhealthy {
			r.Status = HealthUnhealthy
		}
	}
	return r
}

func (s *Service) checkVectorStore(ctx context.Context) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	start := time.Now()
	n, err := s.vs.Count(ctx)
	c := ComponentHealth{
		Status:    HealthHealthy,
		Latency:   time.Since(start),
		Name:      s.vs.Name(),
		Fragments: n,
	}
	if err != nil {
		c.Status = HealthUnhealthy
		c.Error = err.Error()
	}
	return c
}

// checkProvider 探测供应商，能列出模型时再确认配置的模型已部署。
// 没有实现 llm.Pinger 的供应商记为 unknown。
func checkProvider(ctx context.Context, provider any, name, model string) ComponentHealth {
	c := ComponentHealth{Status: HealthUnknown, Name: name, Model: model}
	p, ok := provider.(llm.Pinger)
	if !ok {
		return c
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(ctx)
	if err == nil {
		if l, ok := provider.(llm.ModelLister); ok {
			err = checkModel(ctx, l, model)
		}
	}
	c.Latency = time.Since(start)
	c.Status = HealthHealthy
	if err != nil {
		c.Status = HealthUnhealthy
		c.Error = err.Error()
	}
	return c
}

func checkModel(ctx context.Context, l llm.ModelLister, model string) error {
	models, err := l.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		if m == model || m == model+":latest" {
			return nil
		}
	}
	return fmt.Errorf("model %q is not available", model)
}

func (s *Service) checkCache(ctx context.Context) ComponentHealth {
	switch {
	case !s.cacheOn:
		return ComponentHealth{Status: HealthDisabled}
	case s.redisErr != nil:
		return ComponentHealth{Status: HealthUnhealthy, Name: "local", Error: s.redisErr.Error()}
	case s.redis == nil:
		return ComponentHealth{Status: HealthHealthy, Name: "local"}
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	h := s.redis.Health(ctx)
	c := ComponentHealth{Status: HealthHealthy, Name: "redis", Latency: h.Latency}
	if !h.Healthy {
		c.Status = HealthUnhealthy
		c.Error = h.Error
	}
	return c
}
