// Package options 汇总 sentinel-rag 命令行的全部配置段。
package options

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	ragsvc "github.com/kart-io/sentinel-rag/internal/rag"
	"github.com/kart-io/sentinel-rag/pkg/infra/app"
	"github.com/kart-io/sentinel-rag/pkg/options"
	cacheopts "github.com/kart-io/sentinel-rag/pkg/options/cache"
	llmopts "github.com/kart-io/sentinel-rag/pkg/options/llm"
	logopts "github.com/kart-io/sentinel-rag/pkg/options/logger"
	milvusopts "github.com/kart-io/sentinel-rag/pkg/options/milvus"
	poolopts "github.com/kart-io/sentinel-rag/pkg/options/pool"
	ragopts "github.com/kart-io/sentinel-rag/pkg/options/rag"
	resilienceopts "github.com/kart-io/sentinel-rag/pkg/options/resilience"
	tracingopts "github.com/kart-io/sentinel-rag/pkg/options/tracing"
)

var _ app.CliOptions = (*Options)(nil)

// Options sentinel-rag 的全部配置。
type Options struct {
	LogOptions        *logopts.Options         `json:"log" mapstructure:"log"`
	TracingOptions    *tracingopts.Options     `json:"tracing" mapstructure:"tracing"`
	MilvusOptions     *milvusopts.Options      `json:"milvus" mapstructure:"milvus"`
	EmbeddingOptions  *llmopts.ProviderOptions `json:"embedding" mapstructure:"embedding"`
	ChatOptions       *llmopts.ProviderOptions `json:"chat" mapstructure:"chat"`
	RAGOptions        *ragopts.Options         `json:"rag" mapstructure:"rag"`
	CacheOptions      *cacheopts.Options       `json:"cache" mapstructure:"cache"`
	ResilienceOptions *resilienceopts.Options  `json:"resilience" mapstructure:"resilience"`
	PoolOptions       *poolopts.Options        `json:"pool" mapstructure:"pool"`
}

// NewOptions 返回默认配置。
func NewOptions() *Options {
	return &Options{
		LogOptions:        logopts.NewOptions(),
		TracingOptions:    tracingopts.NewOptions(),
		MilvusOptions:     milvusopts.NewOptions(),
		EmbeddingOptions:  llmopts.NewEmbeddingOptions(),
		ChatOptions:       llmopts.NewChatOptions(),
		RAGOptions:        ragopts.NewOptions(),
		CacheOptions:      cacheopts.NewOptions(),
		ResilienceOptions: resilienceopts.NewOptions(),
		PoolOptions:       poolopts.NewOptions(),
	}
}

// Flags 按配置段返回 flag。
func (o *Options) Flags() (fss app.NamedFlagSets) {
	o.LogOptions.AddFlags(fss.FlagSet("log"))
	o.TracingOptions.AddFlags(fss.FlagSet("tracing"))
	o.MilvusOptions.AddFlags(fss.FlagSet("milvus"))
	o.EmbeddingOptions.AddFlags(fss.FlagSet("embedding"))
	o.ChatOptions.AddFlags(fss.FlagSet("chat"))
	o.RAGOptions.AddFlags(fss.FlagSet("rag"))
	o.CacheOptions.AddFlags(fss.FlagSet("cache"))
	o.ResilienceOptions.AddFlags(fss.FlagSet("resilience"))
	o.PoolOptions.AddFlags(fss.FlagSet("pool"))
	return fss
}

// Complete 补全实现了 options.Completer 的配置段。
func (o *Options) Complete() error {
	sections := []struct {
		name string
		opts any
	}{
		{"log", o.LogOptions},
		{"tracing", o.TracingOptions},
		{"milvus", o.MilvusOptions},
		{"embedding", o.EmbeddingOptions},
		{"chat", o.ChatOptions},
		{"rag", o.RAGOptions},
		{"cache", o.CacheOptions},
		{"resilience", o.ResilienceOptions},
		{"pool", o.PoolOptions},
	}
	for _, s := range sections {
		c, ok := s.opts.(options.Completer)
		if !ok {
			continue
		}
		if err := c.Complete(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// Validate 校验全部配置段并合并错误。
func (o *Options) Validate() error {
	errs := []error{}

	errs = append(errs, o.LogOptions.Validate()...)
	errs = append(errs, o.TracingOptions.Validate()...)
	if o.RAGOptions.Store == ragopts.StoreMilvus {
		errs = append(errs, o.MilvusOptions.Validate()...)
	}
	errs = append(errs, o.EmbeddingOptions.Validate()...)
	errs = append(errs, o.ChatOptions.Validate()...)
	errs = append(errs, o.RAGOptions.Validate()...)
	errs = append(errs, o.CacheOptions.Validate()...)
	errs = append(errs, o.ResilienceOptions.Validate()...)
	errs = append(errs, o.PoolOptions.Validate()...)

	return utilerrors.NewAggregate(errs)
}

// Config 根据配置构建服务配置。
func (o *Options) Config(version string) *ragsvc.Config {
	return &ragsvc.Config{
		LogOptions:        o.LogOptions,
		TracingOptions:    o.TracingOptions,
		MilvusOptions:     o.MilvusOptions,
		EmbeddingOptions:  o.EmbeddingOptions,
		ChatOptions:       o.ChatOptions,
		RAGOptions:        o.RAGOptions,
		CacheOptions:      o.CacheOptions,
		ResilienceOptions: o.ResilienceOptions,
		PoolOptions:       o.PoolOptions,
		Version:           version,
	}
}
