// Package resilience 为所有对外调用（Embedding、向量库、LLM、共享缓存）
// 提供统一的超时、重试与熔断。
package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"
)

// Config 单个后端 Client 的配置。
type Config struct {
	// Backend 后端名称，同名 Client 共享熔断器。
	Backend string
	// CallTimeout 单次调用超时，0 表示只受调用方上下文约束。
	CallTimeout time.Duration
	// Retry 重试配置。
	Retry RetryConfig
}

// Client 包装对单个后端的幂等调用。
type Client struct {
	cfg      Config
	breaker  *Breaker
	now      func() time.Time
	observer Observer
}

// NewClient 创建 Client，breaker 通常来自 Registry.Get(cfg.Backend)。
func NewClient(cfg Config, breaker *Breaker, opts ...Option) *Client {
	o := applyOptions(opts)
	if breaker == nil {
		breaker = NewBreaker(cfg.Backend, DefaultBreakerConfig(), opts...)
	}
	return &Client{
		cfg:      cfg,
		breaker:  breaker,
		now:      o.now,
		observer: o.observer,
	}
}

// Backend 返回后端名称。
func (c *Client) Backend() string {
	return c.cfg.Backend
}

// Breaker 返回绑定的熔断器。
func (c *Client) Breaker() *Breaker {
	return c.breaker
}

// Call 执行 op，按需超时、重试并更新熔断器。返回的错误总是 *Error。
func (c *Client) Call(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := Do(ctx, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// Do 是 Call 的泛型版本，返回 op 的结果。
func Do[T any](ctx context.Context, c *Client, op func(ctx context.Context) (T, error)) (T, error) {
	start := c.now()
	v, err := run(ctx, c, op)
	c.observer.ObserveCall(c.cfg.Backend, KindOf(err), c.now().Sub(start))
	return v, err
}

func run[T any](ctx context.Context, c *Client, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	deadline, _ := ctx.Deadline()
	r := NewRetrier(c.cfg.Retry, deadline, c.now)

	for {
		if err := ctx.Err(); err != nil {
			return zero, c.wrap(KindDeadline, r, false, err)
		}

		probe, err := c.breaker.Allow()
		if err != nil {
			return zero, c.wrap(KindCircuitOpen, r, false, err)
		}

		v, err := attempt(ctx, c.cfg.CallTimeout, op)
		if err == nil {
			c.breaker.Record(probe, OutcomeSuccess)
			return v, nil
		}

		// 调用方上下文结束不是后端的错
		if ctx.Err() != nil {
			c.breaker.Record(probe, OutcomeIgnored)
			return zero, c.wrap(KindDeadline, r, false, ctx.Err())
		}

		kind := Classify(err)
		if kind.Transient() {
			c.breaker.Record(probe, OutcomeFailure)
		} else {
			c.breaker.Record(probe, OutcomeSuccess)
		}

		delay, decision := r.Next(kind)
		switch decision {
		case DecisionRetry:
			logger.Debugw("retrying backend call",
				"backend", c.cfg.Backend,
				"attempt", r.Attempt(),
				"delay", delay,
				"error", err.Error(),
			)
			c.observer.ObserveRetry(c.cfg.Backend)
			if werr := Wait(ctx, delay); werr != nil {
				return zero, c.wrap(KindDeadline, r, false, werr)
			}
		case DecisionDeadline:
			logger.Debugw("backoff would pass deadline",
				"backend", c.cfg.Backend,
				"attempt", r.Attempt(),
				"delay", delay,
			)
			return zero, c.wrap(KindDeadline, r, false,
				fmt.Errorf("backoff %s exceeds deadline: %w", delay, context.DeadlineExceeded))
		case DecisionExhausted:
			logger.Warnw("max retry attempts reached",
				"backend", c.cfg.Backend,
				"attempts", r.Attempt(),
				"error", err.Error(),
			)
			return zero, c.wrap(kind, r, true, err)
		default:
			return zero, c.wrap(kind, r, false, err)
		}
	}
}

// attempt 在单次超时内执行 op。上下文结束后立即返回，不再等待 op。
func attempt[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	actx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := op(actx)
		ch <- result{v: v, err: err}
	}()

	var zero T
	select {
	case res := <-ch:
		if res.err != nil && actx.Err() != nil && ctx.Err() == nil && KindOf(res.err) == 0 {
			return zero, &Error{Kind: KindTimeout, Err: res.err}
		}
		return res.v, res.err
	case <-actx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, &Error{Kind: KindTimeout, Err: actx.Err()}
	}
}

func (c *Client) wrap(kind Kind, r *Retrier, exhausted bool, err error) error {
	if e, ok := err.(*Error); ok && e.Backend == "" {
		err = e.Err
	}
	return &Error{
		Kind:      kind,
		Backend:   c.cfg.Backend,
		Attempts:  r.Attempt(),
		Exhausted: exhausted,
		Err:       err,
	}
}
