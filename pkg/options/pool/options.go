// Package pool 提供批量问答协程池配置。
package pool

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options 协程池配置。
type Options struct {
	// Capacity 池容量。
	Capacity int `json:"capacity" mapstructure:"capacity"`
	// ExpiryDuration 空闲 worker 回收时间。
	ExpiryDuration time.Duration `json:"expiry-duration" mapstructure:"expiry-duration"`
	// MaxBlockingTasks 提交阻塞时最多等待的任务数，0 表示不限。
	MaxBlockingTasks int `json:"max-blocking-tasks" mapstructure:"max-blocking-tasks"`
	// Nonblocking 池满时立即拒绝而不是等待。
	Nonblocking bool `json:"nonblocking" mapstructure:"nonblocking"`
}

// NewOptions 返回默认配置。
func NewOptions() *Options {
	return &Options{
		Capacity:         32,
		ExpiryDuration:   10 * time.Second,
		MaxBlockingTasks: 64,
	}
}

// AddFlags 注册 flag。
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "pool."
	fs.IntVar(&o.Capacity, p+"capacity", o.Capacity, "Worker pool capacity for batch questions.")
	fs.DurationVar(&o.ExpiryDuration, p+"expiry-duration", o.ExpiryDuration, "Idle worker expiry.")
	fs.IntVar(&o.MaxBlockingTasks, p+"max-blocking-tasks", o.MaxBlockingTasks, "Maximum tasks waiting for a worker.")
	fs.BoolVar(&o.Nonblocking, p+"nonblocking", o.Nonblocking, "Reject tasks when the pool is full.")
}

// Validate 校验配置。
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("pool.capacity must be positive"))
	}
	if o.ExpiryDuration <= 0 {
		errs = append(errs, fmt.Errorf("pool.expiry-duration must be positive"))
	}
	if o.MaxBlockingTasks < 0 {
		errs = append(errs, fmt.Errorf("pool.max-blocking-tasks must not be negative"))
	}
	return errs
}
