// Package openai 提供兼容 OpenAI API 的供应商实现。
// 除 OpenAI 外还注册了 deepseek 和 siliconflow，它们只是默认地址和模型不同。
//
// 使用示例：
//
//	import _ "github.com/kart-io/sentinel-rag/pkg/llm/openai"
//
//	provider, err := llm.NewProvider("siliconflow", map[string]any{
//	    "api_key":     "your-api-key",
//	    "embed_model": "BAAI/bge-m3",
//	})
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/resilience"
	"github.com/kart-io/sentinel-rag/pkg/utils/httpclient"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

// 已注册的供应商名称。
const (
	ProviderName    = "openai"
	DeepSeekName    = "deepseek"
	SiliconFlowName = "siliconflow"
)

const (
	defaultTimeout  = 120 * time.Second
	embeddingsPath  = "/embeddings"
	completionsPath = "/chat/completions"
	modelsPath      = "/models"
)

// ErrEmbeddingUnsupported 供应商没有 Embedding API。
var ErrEmbeddingUnsupported = errors.New("embedding api is not supported")

var profiles = map[string]Config{
	ProviderName: {
		BaseURL:    "https://api.openai.com/v1",
		EmbedModel: "text-embedding-3-small",
		ChatModel:  "gpt-4o-mini",
	},
	DeepSeekName: {
		BaseURL:   "https://api.deepseek.com",
		ChatModel: "deepseek-chat",
	},
	SiliconFlowName: {
		BaseURL:    "https://api.siliconflow.cn/v1",
		EmbedModel: "BAAI/bge-m3",
		ChatModel:  "Qwen/Qwen2.5-7B-Instruct",
	},
}

func init() {
	for name := range profiles {
		llm.RegisterProvider(name, factory(name))
	}
}

// Config 供应商配置。
type Config struct {
	// Name 注册名称，决定默认地址和模型。
	Name string `json:"name" mapstructure:"name"`
	// BaseURL API 基础地址，包含版本前缀。
	BaseURL string `json:"base_url" mapstructure:"base_url"`
	// APIKey API 密钥。
	APIKey string `json:"-" mapstructure:"api_key"`
	// EmbedModel Embedding 模型，为空表示供应商不提供 Embedding。
	EmbedModel string `json:"embed_model" mapstructure:"embed_model"`
	// ChatModel 生成模型。
	ChatModel string `json:"chat_model" mapstructure:"chat_model"`
	// Organization OpenAI 组织 ID，可选。
	Organization string `json:"organization" mapstructure:"organization"`
	// Timeout 连接级超时，单次调用超时由 resilience.Client 控制。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// DefaultConfig 返回指定供应商的默认配置，未知名称按 openai 处理。
func DefaultConfig(name string) *Config {
	cfg, ok := profiles[name]
	if !ok {
		name = ProviderName
		cfg = profiles[name]
	}
	cfg.Name = name
	cfg.Timeout = defaultTimeout
	return &cfg
}

func factory(name string) llm.ProviderFactory {
	return func(configMap map[string]any) (llm.Provider, error) {
		cfg := DefaultConfig(name)

		if v, ok := configMap["base_url"].(string); ok && v != "" {
			cfg.BaseURL = strings.TrimRight(v, "/")
		}
		if v, ok := configMap["api_key"].(string); ok && v != "" {
			cfg.APIKey = v
		}
		if v, ok := configMap["embed_model"].(string); ok && v != "" {
			cfg.EmbedModel = v
		}
		if v, ok := configMap["chat_model"].(string); ok && v != "" {
			cfg.ChatModel = v
		}
		if v, ok := configMap["organization"].(string); ok && v != "" {
			cfg.Organization = v
		}
		if v, ok := configMap["timeout"].(time.Duration); ok && v > 0 {
			cfg.Timeout = v
		}

		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%s: api_key is required", name)
		}
		if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
			return nil, fmt.Errorf("%s: invalid base_url %q", name, cfg.BaseURL)
		}
		return NewProviderWithConfig(cfg), nil
	}
}

// Provider 兼容 OpenAI API 的供应商。
type Provider struct {
	config *Config
	client *httpclient.Client
}

// NewProviderWithConfig 使用结构化配置创建供应商。
func NewProviderWithConfig(cfg *Config) *Provider {
	return &Provider{
		config: cfg,
		client: httpclient.NewClient(cfg.Timeout),
	}
}

// Name 返回供应商名称。
func (p *Provider) Name() string {
	return p.config.Name
}

// EmbeddingModel 返回 Embedding 模型名称。
func (p *Provider) EmbeddingModel() string {
	return p.config.EmbedModel
}

// ChatModel 返回生成模型名称。
func (p *Provider) ChatModel() string {
	return p.config.ChatModel
}

type embeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed 为多个文本生成向量嵌入，结果按 index 对齐输入顺序。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if p.config.EmbedModel == "" {
		return nil, resilience.NewError(resilience.KindInvalidInput,
			fmt.Errorf("%s: %w", p.config.Name, ErrEmbeddingUnsupported))
	}

	var resp embeddingResponse
	err := p.postJSON(ctx, embeddingsPath, embeddingRequest{
		Model:          p.config.EmbedModel,
		Input:          texts,
		EncodingFormat: "float",
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("%s embed: %w", p.config.Name, err)
	}

	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(embeddings) {
			embeddings[d.Index] = d.Embedding
		}
	}
	for i, e := range embeddings {
		if len(e) == 0 {
			return nil, resilience.NewError(resilience.KindUnavailable,
				fmt.Errorf("%s embed: missing embedding for input %d", p.config.Name, i))
		}
	}
	return embeddings, nil
}

// EmbedSingle 为单个文本生成向量嵌入。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, resilience.NewError(resilience.KindInvalidInput,
			fmt.Errorf("%s embed: empty text", p.config.Name))
	}

	embeddings, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Generate 根据提示生成文本（单轮），systemPrompt 非空时作为 system 消息。
func (p *Provider) Generate(ctx context.Context, prompt, systemPrompt string, opts llm.GenerateOptions) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	var resp chatResponse
	err := p.postJSON(ctx, completionsPath, chatRequest{
		Model:       p.config.ChatModel,
		Messages:    messages,
		Stream:      false,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("%s generate: %w", p.config.Name, err)
	}

	if len(resp.Choices) == 0 {
		return "", resilience.NewError(resilience.KindUnavailable,
			fmt.Errorf("%s generate: empty choices", p.config.Name))
	}
	return resp.Choices[0].Message.Content, nil
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Ping 检查 API 是否可用且密钥有效。
func (p *Provider) Ping(ctx context.Context) error {
	if err := p.getJSON(ctx, modelsPath, nil); err != nil {
		return fmt.Errorf("%s ping: %w", p.config.Name, err)
	}
	return nil
}

// ListModels 列出可用模型。
func (p *Provider) ListModels(ctx context.Context) ([]string, error) {
	var resp modelsResponse
	if err := p.getJSON(ctx, modelsPath, &resp); err != nil {
		return nil, fmt.Errorf("%s list models: %w", p.config.Name, err)
	}

	models := make([]string, len(resp.Data))
	for i, m := range resp.Data {
		models[i] = m.ID
	}
	return models, nil
}

func (p *Provider) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	p.setAuth(req)
	return p.client.DoJSON(req, out)
}

func (p *Provider) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	p.setAuth(req)
	return p.client.DoJSON(req, out)
}

func (p *Provider) setAuth(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	if p.config.Organization != "" {
		req.Header.Set("OpenAI-Organization", p.config.Organization)
	}
}
