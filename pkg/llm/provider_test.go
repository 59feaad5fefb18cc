package llm

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/pkg/cache"
	"github.com/kart-io/sentinel-rag/pkg/resilience"
	"github.com/kart-io/sentinel-rag/pkg/utils/httpclient"
)

// mockProvider 模拟供应商，按 errs 顺序返回错误，耗尽后成功。
type mockProvider struct {
	name  string
	errs  []error
	calls atomic.Int32
	last  GenerateOptions
}

func (m *mockProvider) next() error {
	n := int(m.calls.Add(1))
	if n <= len(m.errs) {
		return m.errs[n-1]
	}
	return nil
}

func (m *mockProvider) Name() string           { return m.name }
func (m *mockProvider) EmbeddingModel() string { return "mock-embed" }
func (m *mockProvider) ChatModel() string      { return "mock-chat" }

func (m *mockProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if err := m.next(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (m *mockProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	v, err := m.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (m *mockProvider) Generate(_ context.Context, prompt, _ string, opts GenerateOptions) (string, error) {
	m.last = opts
	if err := m.next(); err != nil {
		return "", err
	}
	return "answer to " + prompt, nil
}

func testClient(backend string) *resilience.Client {
	return resilience.NewClient(resilience.Config{
		Backend:     backend,
		CallTimeout: time.Second,
		Retry:       resilience.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}, nil)
}

func TestRegistry(t *testing.T) {
	RegisterProvider("mock", func(config map[string]any) (Provider, error) {
		name, _ := config["name"].(string)
		return &mockProvider{name: name}, nil
	})

	p, err := NewChatProvider("mock", map[string]any{"name": "custom"})
	require.NoError(t, err)
	assert.Equal(t, "custom", p.Name())

	_, err = NewEmbeddingProvider("missing", nil)
	assert.ErrorContains(t, err, `unknown provider "missing"`)

	assert.Contains(t, ListProviders(), "mock")
}

func TestResilientChatProvider_RetriesTransientErrors(t *testing.T) {
	mock := &mockProvider{name: "mock", errs: []error{
		&httpclient.StatusError{Code: http.StatusServiceUnavailable},
		&httpclient.StatusError{Code: http.StatusTooManyRequests},
	}}
	p := NewResilientChatProvider(mock, testClient("llm"))

	text, err := p.Generate(context.Background(), "q", "sys", GenerateOptions{Temperature: 0.3, MaxTokens: 64})
	require.NoError(t, err)
	assert.Equal(t, "answer to q", text)
	assert.EqualValues(t, 3, mock.calls.Load())
	assert.Equal(t, GenerateOptions{Temperature: 0.3, MaxTokens: 64}, mock.last)
	assert.Equal(t, "mock-chat", p.ChatModel())
}

func TestResilientChatProvider_InvalidInputNotRetried(t *testing.T) {
	mock := &mockProvider{name: "mock", errs: []error{
		&httpclient.StatusError{Code: http.StatusBadRequest, Body: "prompt too long"},
	}}
	p := NewResilientChatProvider(mock, testClient("llm"))

	_, err := p.Generate(context.Background(), "q", "", GenerateOptions{})
	assert.Equal(t, resilience.KindInvalidInput, resilience.KindOf(err))
	assert.EqualValues(t, 1, mock.calls.Load())
}

func TestResilientEmbeddingProvider_Exhausted(t *testing.T) {
	down := errors.New("connection refused")
	mock := &mockProvider{name: "mock", errs: []error{down, down, down, down}}
	p := NewResilientEmbeddingProvider(mock, testClient("embedding"))

	_, err := p.EmbedSingle(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, resilience.Degradable(err))
	assert.ErrorIs(t, err, down)
	assert.EqualValues(t, 3, mock.calls.Load())
}

func TestCachedEmbeddingProvider(t *testing.T) {
	tier, err := cache.NewLocalTier(16, nil)
	require.NoError(t, err)

	mock := &mockProvider{name: "mock"}
	p := NewCachedEmbeddingProvider(mock, tier, DefaultEmbeddingCacheConfig())

	// 1. 首次调用访问供应商
	v1, err := p.EmbedSingle(context.Background(), "hello")
	require.NoError(t, err)

	// 2. 第二次命中缓存
	v2, err := p.EmbedSingle(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.EqualValues(t, 1, mock.calls.Load())
	assert.Equal(t, "mock-embed", p.EmbeddingModel())
}
