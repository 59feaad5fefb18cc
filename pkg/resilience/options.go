package resilience

import "time"

// Observer 接收韧性层的事件，用于指标采集。
type Observer interface {
	// ObserveCall 记录一次完整调用（含重试）的结果，kind 为 0 表示成功。
	ObserveCall(backend string, kind Kind, elapsed time.Duration)
	// ObserveRetry 记录一次重试。
	ObserveRetry(backend string)
	// ObserveState 记录熔断器状态变化。
	ObserveState(backend string, state State)
}

type nopObserver struct{}

func (nopObserver) ObserveCall(string, Kind, time.Duration) {}
func (nopObserver) ObserveRetry(string)                     {}
func (nopObserver) ObserveState(string, State)              {}

// Option 配置熔断器与 Client。
type Option func(*settings)

type settings struct {
	now      func() time.Time
	observer Observer
}

// WithClock 替换时间源，测试中用于推进冷却时间。
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// WithObserver 设置事件观察者。
func WithObserver(o Observer) Option {
	return func(s *settings) {
		if o != nil {
			s.observer = o
		}
	}
}

func applyOptions(opts []Option) settings {
	s := settings{now: time.Now, observer: nopObserver{}}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
