// Package llm 提供 Embedding 与文本生成供应商的统一抽象。
// Embedding 和 Chat 可以来自不同供应商。
package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// EmbeddingProvider Embedding 供应商接口。
type EmbeddingProvider interface {
	// Embed 为多个文本生成向量嵌入。
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle 为单个文本生成向量嵌入。
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	// Name 返回供应商名称。
	Name() string

	// EmbeddingModel 返回使用的 Embedding 模型。
	EmbeddingModel() string
}

// GenerateOptions 单次生成的采样参数。
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
}

// ChatProvider 文本生成供应商接口。
type ChatProvider interface {
	// Generate 根据提示和系统提示生成文本（单轮）。
	Generate(ctx context.Context, prompt, systemPrompt string, opts GenerateOptions) (string, error)

	// Name 返回供应商名称。
	Name() string

	// ChatModel 返回使用的生成模型。
	ChatModel() string
}

// Provider 同时支持 Embedding 和 Chat 的供应商。
type Provider interface {
	EmbeddingProvider
	ChatProvider
}

// Pinger 可以探测服务可用性的供应商。
type Pinger interface {
	Ping(ctx context.Context) error
}

// ModelLister 可以列出已部署模型的供应商。
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// ProviderFactory 供应商工厂函数。
type ProviderFactory func(config map[string]any) (Provider, error)

var registry = &providerRegistry{
	factories: make(map[string]ProviderFactory),
}

type providerRegistry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

// RegisterProvider 注册供应商工厂，同名覆盖。
func RegisterProvider(name string, factory ProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.factories[name] = factory
}

// NewProvider 根据名称创建供应商。
func NewProvider(name string, config map[string]any) (Provider, error) {
	registry.mu.RLock()
	factory, ok := registry.factories[name]
	registry.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider %q, registered: %v", name, ListProviders())
	}
	return factory(config)
}

// NewEmbeddingProvider 根据名称创建 Embedding 供应商。
func NewEmbeddingProvider(name string, config map[string]any) (EmbeddingProvider, error) {
	p, err := NewProvider(name, config)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	return p, nil
}

// NewChatProvider 根据名称创建 Chat 供应商。
func NewChatProvider(name string, config map[string]any) (ChatProvider, error) {
	p, err := NewProvider(name, config)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}
	return p, nil
}

// ListProviders 按名称排序返回已注册的供应商。
func ListProviders() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(registry.factories))
	for name := range registry.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
