package resilience

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyBackend 前 failures 次返回 err，之后成功。
type flakyBackend struct {
	failures int32
	err      error
	calls    atomic.Int32
}

func (f *flakyBackend) call(ctx context.Context) (string, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return "", f.err
	}
	return "ok", nil
}

type statusErr int

func (s statusErr) Error() string   { return http.StatusText(int(s)) }
func (s statusErr) StatusCode() int { return int(s) }

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond}
}

func newTestClient(backend string, breaker *Breaker) *Client {
	return NewClient(Config{Backend: backend, CallTimeout: time.Second, Retry: fastRetry()}, breaker)
}

func TestClient_RetriesUntilSuccess(t *testing.T) {
	backend := &flakyBackend{failures: 2, err: statusErr(http.StatusServiceUnavailable)}
	c := newTestClient("llm", nil)

	v, err := Do(context.Background(), c, backend.call)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.EqualValues(t, 3, backend.calls.Load())
	assert.Equal(t, StateClosed, c.Breaker().State())
}

func TestClient_ExhaustsRetries(t *testing.T) {
	backend := &flakyBackend{failures: 100, err: statusErr(http.StatusBadGateway)}
	c := newTestClient("llm", nil)

	_, err := Do(context.Background(), c, backend.call)
	require.Error(t, err)

	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, KindUnavailable, rerr.Kind)
	assert.True(t, rerr.Exhausted)
	assert.Equal(t, 4, rerr.Attempts)
	assert.EqualValues(t, 4, backend.calls.Load())
	assert.True(t, Degradable(err))
}

func TestClient_DoesNotRetryInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"bad request", statusErr(http.StatusBadRequest), KindInvalidInput},
		{"unauthorized", statusErr(http.StatusUnauthorized), KindUnauthorized},
		{"typed", NewError(KindInvalidInput, errors.New("empty text")), KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &flakyBackend{failures: 100, err: tt.err}
			c := newTestClient("embedding", nil)

			_, err := Do(context.Background(), c, backend.call)
			assert.Equal(t, tt.kind, KindOf(err))
			assert.EqualValues(t, 1, backend.calls.Load())
			assert.False(t, Degradable(err))
			// 参数错误不计入熔断失败
			assert.Equal(t, 0, c.Breaker().Stats().Failures)
		})
	}
}

func TestClient_PerCallTimeout(t *testing.T) {
	c := NewClient(Config{
		Backend:     "vector-store",
		CallTimeout: 20 * time.Millisecond,
		Retry:       RetryConfig{MaxRetries: 0},
	}, nil)

	err := c.Call(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestClient_AbandonsCallThatIgnoresContext(t *testing.T) {
	c := NewClient(Config{
		Backend:     "llm",
		CallTimeout: 20 * time.Millisecond,
		Retry:       RetryConfig{MaxRetries: 0},
	}, nil)

	block := make(chan struct{})
	defer close(block)

	start := time.Now()
	err := c.Call(context.Background(), func(ctx context.Context) error {
		<-block
		return nil
	})
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_CircuitOpensAndFailsFast(t *testing.T) {
	registry := NewRegistry(DefaultBreakerConfig())
	backend := &flakyBackend{failures: 1000, err: statusErr(http.StatusServiceUnavailable)}
	c := NewClient(Config{Backend: "llm", Retry: RetryConfig{MaxRetries: 0}}, registry.Get("llm"))

	for i := 0; i < 5; i++ {
		_, err := Do(context.Background(), c, backend.call)
		require.Equal(t, KindUnavailable, KindOf(err))
	}
	require.Equal(t, StateOpen, c.Breaker().State())
	require.EqualValues(t, 5, backend.calls.Load())

	// 熔断后不再访问后端
	other := NewClient(Config{Backend: "llm"}, registry.Get("llm"))
	_, err := Do(context.Background(), other, backend.call)
	assert.Equal(t, KindCircuitOpen, KindOf(err))
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.EqualValues(t, 5, backend.calls.Load())
	assert.True(t, Degradable(err))
}

func TestClient_DeadlineAbortsBeforeBackoff(t *testing.T) {
	backend := &flakyBackend{failures: 100, err: statusErr(http.StatusServiceUnavailable)}
	c := NewClient(Config{
		Backend: "llm",
		Retry:   RetryConfig{MaxRetries: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 4 * time.Second},
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Do(ctx, c, backend.call)
	assert.Equal(t, KindDeadline, KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	// 没有睡眠 200ms 的退避
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	assert.EqualValues(t, 1, backend.calls.Load())
}

func TestClient_ParentCancelNotCountedAsFailure(t *testing.T) {
	c := newTestClient("llm", nil)
	ctx, cancel := context.WithCancel(context.Background())

	err := c.Call(ctx, func(ctx context.Context) error {
		cancel()
		return ctx.Err()
	})
	assert.Equal(t, KindDeadline, KindOf(err))
	assert.Equal(t, 0, c.Breaker().Stats().Failures)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"429", statusErr(http.StatusTooManyRequests), KindUnavailable},
		{"500", statusErr(http.StatusInternalServerError), KindUnavailable},
		{"408", statusErr(http.StatusRequestTimeout), KindTimeout},
		{"422", statusErr(http.StatusUnprocessableEntity), KindInvalidInput},
		{"403", statusErr(http.StatusForbidden), KindUnauthorized},
		{"circuit", ErrCircuitOpen, KindCircuitOpen},
		{"unknown", errors.New("connection refused"), KindUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
