package resilience

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryConfig 重试配置。
type RetryConfig struct {
	// MaxRetries 首次调用之后最多重试的次数。
	MaxRetries int
	// BaseDelay 指数退避的初始延迟。
	BaseDelay time.Duration
	// MaxDelay 单次退避延迟上限。
	MaxDelay time.Duration
	// JitterPercent 抖动百分比，0 表示不抖动。
	JitterPercent uint64
}

// DefaultRetryConfig 返回默认重试配置。
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		BaseDelay:     200 * time.Millisecond,
		MaxDelay:      4 * time.Second,
		JitterPercent: 20,
	}
}

// Decision 重试状态机在一次失败后的决定。
type Decision int

const (
	// DecisionRetry 等待后重试。
	DecisionRetry Decision = iota
	// DecisionGiveUp 错误不可重试。
	DecisionGiveUp
	// DecisionExhausted 重试次数已用尽。
	DecisionExhausted
	// DecisionDeadline 退避等待会越过截止时间，提前放弃。
	DecisionDeadline
)

func (d Decision) String() string {
	switch d {
	case DecisionRetry:
		return "retry"
	case DecisionGiveUp:
		return "give-up"
	case DecisionExhausted:
		return "exhausted"
	case DecisionDeadline:
		return "deadline"
	default:
		return "unknown"
	}
}

// Retrier 单次逻辑调用的重试状态机：尝试计数、下一次延迟、截止时间检查。
// 不做任何 I/O，可以在没有真实后端的情况下单独测试。
type Retrier struct {
	attempt     int
	backoff     retry.Backoff
	deadline    time.Time
	hasDeadline bool
	now         func() time.Time
}

// NewRetrier 创建重试状态机。deadline 为零值表示没有截止时间。
func NewRetrier(cfg RetryConfig, deadline time.Time, now func() time.Time) *Retrier {
	if now == nil {
		now = time.Now
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultRetryConfig().BaseDelay
	}

	b := retry.NewExponential(cfg.BaseDelay)
	if cfg.JitterPercent > 0 {
		b = retry.WithJitterPercent(cfg.JitterPercent, b)
	}
	if cfg.MaxDelay > 0 {
		b = retry.WithCappedDuration(cfg.MaxDelay, b)
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	b = retry.WithMaxRetries(uint64(maxRetries), b)

	return &Retrier{
		backoff:     b,
		deadline:    deadline,
		hasDeadline: !deadline.IsZero(),
		now:         now,
	}
}

// Attempt 返回已记录的尝试次数。
func (r *Retrier) Attempt() int {
	return r.attempt
}

// Next 记录一次失败的尝试，返回下一步决定及需要等待的时间。
func (r *Retrier) Next(kind Kind) (time.Duration, Decision) {
	r.attempt++

	if !kind.Transient() {
		return 0, DecisionGiveUp
	}

	delay, stop := r.backoff.Next()
	if stop {
		return 0, DecisionExhausted
	}

	// 睡眠前检查截止时间
	if r.hasDeadline && !r.now().Add(delay).Before(r.deadline) {
		return delay, DecisionDeadline
	}
	return delay, DecisionRetry
}

// Wait 等待 d，调用方上下文结束时提前返回其错误。
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
