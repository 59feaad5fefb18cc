// Package cache 提供问答缓存配置。
package cache

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
	redisopts "github.com/kart-io/sentinel-rag/pkg/options/redis"
)

var _ options.IOptions = (*Options)(nil)

// Options 缓存配置。
type Options struct {
	// Enabled 是否启用问答缓存。
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	// TTL 缓存条目有效期。
	TTL time.Duration `json:"ttl" mapstructure:"ttl"`
	// KeyPrefix 缓存键前缀。
	KeyPrefix string `json:"key-prefix" mapstructure:"key-prefix"`
	// LocalSize 进程内 LRU 容量。
	LocalSize int `json:"local-size" mapstructure:"local-size"`
	// EmbeddingSize 问题向量缓存容量，0 表示不缓存向量。
	EmbeddingSize int `json:"embedding-size" mapstructure:"embedding-size"`
	// SharedEnabled 是否使用 Redis 共享缓存。
	SharedEnabled bool `json:"shared-enabled" mapstructure:"shared-enabled"`
	// CallTimeout 共享缓存单次调用超时。
	CallTimeout time.Duration `json:"call-timeout" mapstructure:"call-timeout"`
	// Redis 连接配置。
	Redis *redisopts.Options `json:"redis" mapstructure:"redis"`
}

// NewOptions 返回默认配置。
func NewOptions() *Options {
	return &Options{
		Enabled:       true,
		TTL:           time.Hour,
		KeyPrefix:     "qa:",
		LocalSize:     1024,
		EmbeddingSize: 1024,
		SharedEnabled: true,
		CallTimeout:   500 * time.Millisecond,
		Redis:         redisopts.NewOptions(),
	}
}

// AddFlags 注册 flag，Redis 配置位于 cache.redis.* 下。
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "cache."
	fs.BoolVar(&o.Enabled, p+"enabled", o.Enabled, "Enable the answer cache.")
	fs.DurationVar(&o.TTL, p+"ttl", o.TTL, "Answer cache TTL.")
	fs.StringVar(&o.KeyPrefix, p+"key-prefix", o.KeyPrefix, "Answer cache key prefix.")
	fs.IntVar(&o.LocalSize, p+"local-size", o.LocalSize, "Local LRU capacity.")
	fs.IntVar(&o.EmbeddingSize, p+"embedding-size", o.EmbeddingSize, "Query embedding LRU capacity, 0 disables it.")
	fs.BoolVar(&o.SharedEnabled, p+"shared-enabled", o.SharedEnabled, "Use Redis as the shared cache tier.")
	fs.DurationVar(&o.CallTimeout, p+"call-timeout", o.CallTimeout, "Per-call timeout for the shared tier.")

	if o.Redis == nil {
		o.Redis = redisopts.NewOptions()
	}
	o.Redis.AddFlags(fs, append(prefixes, "cache")...)
}

// Complete 补全默认值。
func (o *Options) Complete() error {
	if o.Redis == nil {
		o.Redis = redisopts.NewOptions()
	}
	return o.Redis.Complete()
}

// Validate 校验配置。
func (o *Options) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	var errs []error
	if o.TTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must be positive"))
	}
	if o.KeyPrefix == "" {
		errs = append(errs, fmt.Errorf("cache.key-prefix is required"))
	}
	if o.LocalSize <= 0 {
		errs = append(errs, fmt.Errorf("cache.local-size must be positive"))
	}
	if o.EmbeddingSize < 0 {
		errs = append(errs, fmt.Errorf("cache.embedding-size must not be negative"))
	}
	if o.SharedEnabled {
		if o.CallTimeout <= 0 {
			errs = append(errs, fmt.Errorf("cache.call-timeout must be positive"))
		}
		errs = append(errs, o.Redis.Validate()...)
	}
	return errs
}
