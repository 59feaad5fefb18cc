// Package rag 提供问答流程配置。
package rag

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// 向量库后端。
const (
	StoreMilvus = "milvus"
	StoreMemory = "memory"
)

// Options 问答流程配置。
type Options struct {
	// Store 向量库后端：milvus 或 memory。
	Store string `json:"store" mapstructure:"store"`
	// MemoryStorePath memory 后端加载的片段文件（JSON）。
	MemoryStorePath string `json:"memory-store-path" mapstructure:"memory-store-path"`
	// Collection 向量集合名称。
	Collection string `json:"collection" mapstructure:"collection"`
	// TopK 默认检索数量。
	TopK int `json:"top-k" mapstructure:"top-k"`
	// SimilarityThreshold 默认相似度阈值。
	SimilarityThreshold float64 `json:"similarity-threshold" mapstructure:"similarity-threshold"`
	// Temperature 默认生成温度。
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	// MaxTokens 默认最大生成 token 数。
	MaxTokens int `json:"max-tokens" mapstructure:"max-tokens"`
	// MaxContextLength 上下文字符预算。
	MaxContextLength int `json:"max-context-length" mapstructure:"max-context-length"`
	// QueryTimeout 单个问题的整体截止时间。
	QueryTimeout time.Duration `json:"query-timeout" mapstructure:"query-timeout"`
	// MaxBatchSize 批量问答的最大问题数。
	MaxBatchSize int `json:"max-batch-size" mapstructure:"max-batch-size"`
	// MaxConcurrentGenerations 同时进行的生成调用上限。
	MaxConcurrentGenerations int `json:"max-concurrent-generations" mapstructure:"max-concurrent-generations"`
	// MaxQueueDepth 等待生成的最大排队数，超出时拒绝。
	MaxQueueDepth int `json:"max-queue-depth" mapstructure:"max-queue-depth"`
	// SystemPrompt 提示词模板，为空时使用内置模板。
	SystemPrompt string `json:"system-prompt" mapstructure:"system-prompt"`
}

// NewOptions 返回默认配置。
func NewOptions() *Options {
	return &Options{
		Store:                    StoreMilvus,
		Collection:               "rag_documents",
		TopK:                     5,
		SimilarityThreshold:      0.7,
		Temperature:              0.7,
		MaxTokens:                2000,
		MaxContextLength:         4000,
		QueryTimeout:             330 * time.Second,
		MaxBatchSize:             10,
		MaxConcurrentGenerations: 4,
		MaxQueueDepth:            16,
	}
}

// AddFlags 注册 flag。
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "rag."
	fs.StringVar(&o.Store, p+"store", o.Store, "Vector store backend (milvus|memory).")
	fs.StringVar(&o.MemoryStorePath, p+"memory-store-path", o.MemoryStorePath, "Fragments file loaded by the memory store.")
	fs.StringVar(&o.Collection, p+"collection", o.Collection, "Vector collection name.")
	fs.IntVar(&o.TopK, p+"top-k", o.TopK, "Default number of fragments to retrieve.")
	fs.Float64Var(&o.SimilarityThreshold, p+"similarity-threshold", o.SimilarityThreshold, "Default minimum similarity score.")
	fs.Float64Var(&o.Temperature, p+"temperature", o.Temperature, "Default sampling temperature.")
	fs.IntVar(&o.MaxTokens, p+"max-tokens", o.MaxTokens, "Default maximum tokens to generate.")
	fs.IntVar(&o.MaxContextLength, p+"max-context-length", o.MaxContextLength, "Context budget in characters.")
	fs.DurationVar(&o.QueryTimeout, p+"query-timeout", o.QueryTimeout, "Overall deadline for one question.")
	fs.IntVar(&o.MaxBatchSize, p+"max-batch-size", o.MaxBatchSize, "Maximum questions per batch.")
	fs.IntVar(&o.MaxConcurrentGenerations, p+"max-concurrent-generations", o.MaxConcurrentGenerations, "Maximum in-flight generation calls.")
	fs.IntVar(&o.MaxQueueDepth, p+"max-queue-depth", o.MaxQueueDepth, "Maximum queued generation calls before rejecting.")
}

// Complete 补全默认值。
func (o *Options) Complete() error {
	o.SystemPrompt = strings.TrimSpace(o.SystemPrompt)
	return nil
}

// Validate 校验配置。
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	switch o.Store {
	case StoreMilvus:
	case StoreMemory:
		if o.MemoryStorePath == "" {
			errs = append(errs, fmt.Errorf("rag.memory-store-path is required for the memory store"))
		}
	default:
		errs = append(errs, fmt.Errorf("rag.store must be milvus or memory, got %q", o.Store))
	}
	if o.Collection == "" {
		errs = append(errs, fmt.Errorf("rag.collection is required"))
	}
	if o.TopK < 1 || o.TopK > 20 {
		errs = append(errs, fmt.Errorf("rag.top-k must be in [1,20], got %d", o.TopK))
	}
	if o.SimilarityThreshold < 0 || o.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("rag.similarity-threshold must be in [0,1], got %g", o.SimilarityThreshold))
	}
	if o.Temperature < 0 || o.Temperature > 2 {
		errs = append(errs, fmt.Errorf("rag.temperature must be in [0,2], got %g", o.Temperature))
	}
	if o.MaxTokens < 1 || o.MaxTokens > 8192 {
		errs = append(errs, fmt.Errorf("rag.max-tokens must be in [1,8192], got %d", o.MaxTokens))
	}
	if o.MaxContextLength <= 0 {
		errs = append(errs, fmt.Errorf("rag.max-context-length must be positive"))
	}
	if o.QueryTimeout <= 0 {
		errs = append(errs, fmt.Errorf("rag.query-timeout must be positive"))
	}
	if o.MaxBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("rag.max-batch-size must be positive"))
	}
	if o.MaxConcurrentGenerations <= 0 {
		errs = append(errs, fmt.Errorf("rag.max-concurrent-generations must be positive"))
	}
	if o.MaxQueueDepth < 0 {
		errs = append(errs, fmt.Errorf("rag.max-queue-depth must not be negative"))
	}
	return errs
}
