// Package resilience 提供后端调用的重试与熔断配置。
package resilience

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
	"github.com/kart-io/sentinel-rag/pkg/resilience"
)

var _ options.IOptions = (*Options)(nil)

// Options 重试与熔断配置，所有后端共用。
type Options struct {
	MaxRetries    int           `json:"max-retries" mapstructure:"max-retries"`
	BaseDelay     time.Duration `json:"base-delay" mapstructure:"base-delay"`
	MaxDelay      time.Duration `json:"max-delay" mapstructure:"max-delay"`
	JitterPercent uint64        `json:"jitter-percent" mapstructure:"jitter-percent"`

	FailureThreshold   int           `json:"failure-threshold" mapstructure:"failure-threshold"`
	FailureWindow      time.Duration `json:"failure-window" mapstructure:"failure-window"`
	Cooldown           time.Duration `json:"cooldown" mapstructure:"cooldown"`
	CooldownMultiplier float64       `json:"cooldown-multiplier" mapstructure:"cooldown-multiplier"`
	MaxCooldown        time.Duration `json:"max-cooldown" mapstructure:"max-cooldown"`

	// VectorStoreTimeout 向量库单次检索超时。
	VectorStoreTimeout time.Duration `json:"vector-store-timeout" mapstructure:"vector-store-timeout"`
}

// NewOptions 返回默认配置。
func NewOptions() *Options {
	r := resilience.DefaultRetryConfig()
	b := resilience.DefaultBreakerConfig()
	return &Options{
		MaxRetries:         r.MaxRetries,
		BaseDelay:          r.BaseDelay,
		MaxDelay:           r.MaxDelay,
		JitterPercent:      r.JitterPercent,
		FailureThreshold:   b.FailureThreshold,
		FailureWindow:      b.Window,
		Cooldown:           b.Cooldown,
		CooldownMultiplier: b.CooldownMultiplier,
		MaxCooldown:        b.MaxCooldown,
		VectorStoreTimeout: 5 * time.Second,
	}
}

// AddFlags 注册 flag。
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "resilience."
	fs.IntVar(&o.MaxRetries, p+"max-retries", o.MaxRetries, "Retries for transient backend failures.")
	fs.DurationVar(&o.BaseDelay, p+"base-delay", o.BaseDelay, "Initial retry backoff.")
	fs.DurationVar(&o.MaxDelay, p+"max-delay", o.MaxDelay, "Maximum retry backoff.")
	fs.Uint64Var(&o.JitterPercent, p+"jitter-percent", o.JitterPercent, "Backoff jitter in percent.")
	fs.IntVar(&o.FailureThreshold, p+"failure-threshold", o.FailureThreshold, "Consecutive failures that open a circuit.")
	fs.DurationVar(&o.FailureWindow, p+"failure-window", o.FailureWindow, "Window in which failures are counted.")
	fs.DurationVar(&o.Cooldown, p+"cooldown", o.Cooldown, "Time an open circuit waits before a probe.")
	fs.Float64Var(&o.CooldownMultiplier, p+"cooldown-multiplier", o.CooldownMultiplier, "Cooldown growth after a failed probe.")
	fs.DurationVar(&o.MaxCooldown, p+"max-cooldown", o.MaxCooldown, "Upper bound of the cooldown.")
	fs.DurationVar(&o.VectorStoreTimeout, p+"vector-store-timeout", o.VectorStoreTimeout, "Per-call timeout for vector searches.")
}

// RetryConfig 转换为 resilience.RetryConfig。
func (o *Options) RetryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxRetries:    o.MaxRetries,
		BaseDelay:     o.BaseDelay,
		MaxDelay:      o.MaxDelay,
		JitterPercent: o.JitterPercent,
	}
}

// BreakerConfig 转换为 resilience.BreakerConfig。
func (o *Options) BreakerConfig() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		FailureThreshold:   o.FailureThreshold,
		Window:             o.FailureWindow,
		Cooldown:           o.Cooldown,
		CooldownMultiplier: o.CooldownMultiplier,
		MaxCooldown:        o.MaxCooldown,
	}
}

// Validate 校验配置。
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("resilience.max-retries must not be negative"))
	}
	if o.BaseDelay <= 0 || o.MaxDelay < o.BaseDelay {
		errs = append(errs, fmt.Errorf("resilience backoff requires 0 < base-delay <= max-delay"))
	}
	if o.JitterPercent > 100 {
		errs = append(errs, fmt.Errorf("resilience.jitter-percent must be <= 100"))
	}
	if o.FailureThreshold <= 0 {
		errs = append(errs, fmt.Errorf("resilience.failure-threshold must be positive"))
	}
	if o.FailureWindow <= 0 || o.Cooldown <= 0 {
		errs = append(errs, fmt.Errorf("resilience failure-window and cooldown must be positive"))
	}
	if o.CooldownMultiplier < 1 {
		errs = append(errs, fmt.Errorf("resilience.cooldown-multiplier must be >= 1"))
	}
	if o.MaxCooldown < o.Cooldown {
		errs = append(errs, fmt.Errorf("resilience.max-cooldown must be >= cooldown"))
	}
	if o.VectorStoreTimeout <= 0 {
		errs = append(errs, fmt.Errorf("resilience.vector-store-timeout must be positive"))
	}
	return errs
}
