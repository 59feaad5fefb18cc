package resilience

import (
	"sync"
	"time"

	"github.com/kart-io/logger"
)

// State 熔断器状态。
type State int32

const (
	// StateClosed 熔断器关闭，正常工作。
	StateClosed State = iota
	// StateOpen 熔断器打开，拒绝所有请求。
	StateOpen
	// StateHalfOpen 熔断器半开，只放行一个探测请求。
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig 熔断器配置。
type BreakerConfig struct {
	// FailureThreshold 窗口内连续失败多少次后打开。
	FailureThreshold int
	// Window 连续失败的统计窗口，首个失败早于窗口时重新计数。
	Window time.Duration
	// Cooldown 打开后到允许探测的基础冷却时间。
	Cooldown time.Duration
	// CooldownMultiplier 探测失败后冷却时间的倍数，<=1 表示不增长。
	CooldownMultiplier float64
	// MaxCooldown 冷却时间上限。
	MaxCooldown time.Duration
}

// DefaultBreakerConfig 返回默认熔断器配置。
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:   5,
		Window:             60 * time.Second,
		Cooldown:           30 * time.Second,
		CooldownMultiplier: 2,
		MaxCooldown:        5 * time.Minute,
	}
}

// Outcome 一次调用对熔断器的影响。
type Outcome int

const (
	// OutcomeSuccess 后端正常响应（包括调用方参数错误）。
	OutcomeSuccess Outcome = iota
	// OutcomeFailure 后端瞬时失败。
	OutcomeFailure
	// OutcomeIgnored 调用方自己取消，不计入统计。
	OutcomeIgnored
)

// Breaker 单个后端的熔断状态，由同一后端的所有 Client 共享。
type Breaker struct {
	name     string
	cfg      BreakerConfig
	now      func() time.Time
	observer Observer

	mu          sync.Mutex
	state       State
	failures    int
	windowStart time.Time
	lastFailure time.Time
	openUntil   time.Time
	cooldown    time.Duration
	probing     bool
}

// NewBreaker 创建熔断器。
func NewBreaker(name string, cfg BreakerConfig, opts ...Option) *Breaker {
	o := applyOptions(opts)
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	if cfg.MaxCooldown < cfg.Cooldown {
		cfg.MaxCooldown = cfg.Cooldown
	}
	return &Breaker{
		name:     name,
		cfg:      cfg,
		now:      o.now,
		observer: o.observer,
		cooldown: cfg.Cooldown,
	}
}

// Name 返回后端名称。
func (b *Breaker) Name() string {
	return b.name
}

// Allow 判断是否放行一次调用。probe 为 true 表示本次调用是半开探测，
// 调用结束后必须通过 Record 回报结果。
func (b *Breaker) Allow() (probe bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.now().Before(b.openUntil) {
			return false, ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return true, nil
	default:
		// 半开期间探测尚未结束
		return false, ErrCircuitOpen
	}
}

// Record 回报一次已放行调用的结果。
func (b *Breaker) Record(probe bool, outcome Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if probe {
		b.probing = false
		switch outcome {
		case OutcomeSuccess:
			b.failures = 0
			b.cooldown = b.cfg.Cooldown
			b.transition(StateClosed)
		case OutcomeFailure:
			b.lastFailure = now
			b.cooldown = b.nextCooldown()
			b.openUntil = now.Add(b.cooldown)
			b.transition(StateOpen)
		default:
			// 探测被调用方取消，回到打开状态，下一个调用者重新探测
			b.transition(StateOpen)
		}
		return
	}

	if b.state != StateClosed {
		return
	}

	switch outcome {
	case OutcomeSuccess:
		b.failures = 0
	case OutcomeFailure:
		if b.failures == 0 || (b.cfg.Window > 0 && now.Sub(b.windowStart) > b.cfg.Window) {
			b.windowStart = now
			b.failures = 0
		}
		b.failures++
		b.lastFailure = now
		if b.failures >= b.cfg.FailureThreshold {
			logger.Warnw("circuit breaker opening",
				"backend", b.name,
				"failures", b.failures,
				"cooldown", b.cooldown,
			)
			b.openUntil = now.Add(b.cooldown)
			b.transition(StateOpen)
		}
	}
}

func (b *Breaker) nextCooldown() time.Duration {
	if b.cfg.CooldownMultiplier <= 1 {
		return b.cfg.Cooldown
	}
	next := time.Duration(float64(b.cooldown) * b.cfg.CooldownMultiplier)
	if next > b.cfg.MaxCooldown {
		next = b.cfg.MaxCooldown
	}
	return next
}

// transition 必须在持有锁时调用。
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	logger.Infow("circuit breaker state changed",
		"backend", b.name,
		"from", from.String(),
		"to", to.String(),
	)
	b.observer.ObserveState(b.name, to)
}

// State 获取当前状态。
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerStats 熔断器快照。
type BreakerStats struct {
	Backend     string        `json:"backend"`
	State       string        `json:"state"`
	Failures    int           `json:"failures"`
	LastFailure time.Time     `json:"last_failure,omitempty"`
	OpenUntil   time.Time     `json:"open_until,omitempty"`
	Cooldown    time.Duration `json:"cooldown"`
}

// Stats 获取熔断器统计信息。
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		Backend:     b.name,
		State:       b.state.String(),
		Failures:    b.failures,
		LastFailure: b.lastFailure,
		OpenUntil:   b.openUntil,
		Cooldown:    b.cooldown,
	}
}

// Reset 重置为关闭状态。
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.cooldown = b.cfg.Cooldown
	b.transition(StateClosed)
}
