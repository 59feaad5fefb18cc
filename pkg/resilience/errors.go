package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind 后端调用失败的分类。
type Kind int

const (
	// KindUnavailable 后端不可用（连接失败、5xx、限流等），可重试。
	KindUnavailable Kind = iota + 1
	// KindTimeout 单次调用超时，可重试。
	KindTimeout
	// KindCircuitOpen 熔断器打开，调用未发出。
	KindCircuitOpen
	// KindInvalidInput 请求本身不合法，不重试。
	KindInvalidInput
	// KindUnauthorized 鉴权失败，不重试。
	KindUnauthorized
	// KindDeadline 调用方的截止时间已到或退避等待将越过截止时间。
	KindDeadline
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindTimeout:
		return "timeout"
	case KindCircuitOpen:
		return "circuit_open"
	case KindInvalidInput:
		return "invalid_input"
	case KindUnauthorized:
		return "unauthorized"
	case KindDeadline:
		return "deadline"
	default:
		return "unknown"
	}
}

// Transient 报告该类错误是否值得重试，同时也是熔断器计入失败的依据。
func (k Kind) Transient() bool {
	return k == KindUnavailable || k == KindTimeout
}

// ErrCircuitOpen 熔断器打开错误。
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Error 经过分类的后端错误。
type Error struct {
	Kind    Kind
	Backend string
	// Attempts 实际发出的调用次数。
	Attempts int
	// Exhausted 重试次数已用尽。
	Exhausted bool
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Backend, e.Kind)
	if e.Exhausted {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError 构造指定类型的错误，供后端适配器直接声明失败类型。
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf 返回 err 链上第一个 *Error 的类型，没有则返回 0。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Degradable 报告调用失败后调用方是否应走降级路径：熔断或重试耗尽。
func Degradable(err error) bool {
	k := KindOf(err)
	return k == KindCircuitOpen || k.Transient()
}

type statusCoder interface {
	StatusCode() int
}

// Classify 将任意错误归类。调用方上下文的错误不在这里处理。
func Classify(err error) Kind {
	if err == nil {
		return 0
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	if errors.Is(err, ErrCircuitOpen) {
		return KindCircuitOpen
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return classifyStatus(sc.StatusCode())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	// 连接拒绝、EOF 等其余错误都视为后端不可用
	return KindUnavailable
}

func classifyStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindUnauthorized
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return KindTimeout
	case code == http.StatusTooManyRequests || code >= 500:
		return KindUnavailable
	case code >= 400:
		return KindInvalidInput
	default:
		return KindUnavailable
	}
}
