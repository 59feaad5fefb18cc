package llm

import (
	"context"
	"errors"

	"github.com/kart-io/sentinel-rag/pkg/resilience"
)

// ResilientEmbeddingProvider 通过 resilience.Client 调用底层 Embedding 供应商。
type ResilientEmbeddingProvider struct {
	provider EmbeddingProvider
	client   *resilience.Client
}

// NewResilientEmbeddingProvider 创建带超时、重试和熔断的 Embedding 供应商。
func NewResilientEmbeddingProvider(provider EmbeddingProvider, client *resilience.Client) *ResilientEmbeddingProvider {
	return &ResilientEmbeddingProvider{provider: provider, client: client}
}

// Embed 为多个文本生成向量嵌入。
func (r *ResilientEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return resilience.Do(ctx, r.client, func(ctx context.Context) ([][]float32, error) {
		return r.provider.Embed(ctx, texts)
	})
}

// EmbedSingle 为单个文本生成向量嵌入。空向量视为供应商不可用。
func (r *ResilientEmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return resilience.Do(ctx, r.client, func(ctx context.Context) ([]float32, error) {
		v, err := r.provider.EmbedSingle(ctx, text)
		if err == nil && len(v) == 0 {
			return nil, resilience.NewError(resilience.KindUnavailable, errEmptyEmbedding)
		}
		return v, err
	})
}

// Name 返回底层供应商名称。
func (r *ResilientEmbeddingProvider) Name() string {
	return r.provider.Name()
}

// EmbeddingModel 返回底层 Embedding 模型。
func (r *ResilientEmbeddingProvider) EmbeddingModel() string {
	return r.provider.EmbeddingModel()
}

// Client 返回绑定的 resilience.Client（用于监控）。
func (r *ResilientEmbeddingProvider) Client() *resilience.Client {
	return r.client
}

// ResilientChatProvider 通过 resilience.Client 调用底层 Chat 供应商。
type ResilientChatProvider struct {
	provider ChatProvider
	client   *resilience.Client
}

// NewResilientChatProvider 创建带超时、重试和熔断的 Chat 供应商。
func NewResilientChatProvider(provider ChatProvider, client *resilience.Client) *ResilientChatProvider {
	return &ResilientChatProvider{provider: provider, client: client}
}

// Generate 根据提示生成文本。
func (r *ResilientChatProvider) Generate(ctx context.Context, prompt, systemPrompt string, opts GenerateOptions) (string, error) {
	return resilience.Do(ctx, r.client, func(ctx context.Context) (string, error) {
		return r.provider.Generate(ctx, prompt, systemPrompt, opts)
	})
}

// Name 返回底层供应商名称。
func (r *ResilientChatProvider) Name() string {
	return r.provider.Name()
}

// ChatModel 返回底层生成模型。
func (r *ResilientChatProvider) ChatModel() string {
	return r.provider.ChatModel()
}

// Client 返回绑定的 resilience.Client（用于监控）。
func (r *ResilientChatProvider) Client() *resilience.Client {
	return r.client
}

var errEmptyEmbedding = errors.New("provider returned empty embedding")
