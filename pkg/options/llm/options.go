// Package llm 提供 Embedding 与 Chat 供应商配置。
package llm

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*ProviderOptions)(nil)

// ProviderOptions 单个供应商配置，flag 以 section 为前缀（embedding 或 chat）。
type ProviderOptions struct {
	// Provider 供应商名称。
	Provider string `json:"provider" mapstructure:"provider"`
	// BaseURL API 基础地址，为空时使用供应商默认地址。
	BaseURL string `json:"base-url" mapstructure:"base-url"`
	// APIKey API 密钥，Ollama 不需要。
	APIKey string `json:"-" mapstructure:"api-key"`
	// Model 模型名称。
	Model string `json:"model" mapstructure:"model"`
	// Timeout 单次调用超时。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	section string
}

func newProviderOptions(section, model string, timeout time.Duration) *ProviderOptions {
	return &ProviderOptions{
		Provider: "ollama",
		Model:    model,
		Timeout:  timeout,
		section:  section,
	}
}

// NewEmbeddingOptions 返回 Embedding 供应商默认配置。
func NewEmbeddingOptions() *ProviderOptions {
	return newProviderOptions("embedding", "nomic-embed-text", 10*time.Second)
}

// NewChatOptions 返回 Chat 供应商默认配置。生成比检索慢，超时更长。
func NewChatOptions() *ProviderOptions {
	return newProviderOptions("chat", "qwen2.5:7b-instruct", 300*time.Second)
}

// ToConfigMap 转换为供应商工厂使用的配置。
func (o *ProviderOptions) ToConfigMap() map[string]any {
	m := map[string]any{}
	if o.BaseURL != "" {
		m["base_url"] = o.BaseURL
	}
	if o.APIKey != "" {
		m["api_key"] = o.APIKey
	}
	switch o.section {
	case "embedding":
		m["embed_model"] = o.Model
	default:
		m["chat_model"] = o.Model
	}
	return m
}

// AddFlags 注册 flag。
func (o *ProviderOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + o.section + "."
	fs.StringVar(&o.Provider, p+"provider", o.Provider, "Provider name for "+o.section+".")
	fs.StringVar(&o.BaseURL, p+"base-url", o.BaseURL, "Provider API base URL for "+o.section+", empty uses the provider default.")
	fs.StringVar(&o.APIKey, p+"api-key", o.APIKey, "Provider API key for "+o.section+".")
	fs.StringVar(&o.Model, p+"model", o.Model, "Model used for "+o.section+".")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Per-call timeout for "+o.section+".")
}

// Validate 校验配置。
func (o *ProviderOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Provider == "" {
		errs = append(errs, fmt.Errorf("%s.provider is required", o.section))
	}
	if o.Model == "" {
		errs = append(errs, fmt.Errorf("%s.model is required", o.section))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%s.timeout must be positive", o.section))
	}
	return errs
}
