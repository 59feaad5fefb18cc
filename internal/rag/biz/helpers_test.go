package biz

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/cache"
	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/resilience"
)

type fakeEmbedder struct {
	calls atomic.Int32
	fn    func(ctx context.Context, text string) ([]float32, error)
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, err := f.EmbedSingle(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx, text)
	}
	return []float32{1, 0}, nil
}

func (f *fakeEmbedder) Name() string           { return "fake" }
func (f *fakeEmbedder) EmbeddingModel() string { return "fake-embed" }

type fakeStore struct {
	calls     atomic.Int32
	fragments []store.Fragment
	fn        func(ctx context.Context) ([]store.Fragment, error)
}

func (f *fakeStore) Search(ctx context.Context, _ []float32, _ int) ([]store.Fragment, error) {
	f.calls.Add(1)
	if f.fn != nil {
		return f.fn(ctx)
	}
	return append([]store.Fragment(nil), f.fragments...), nil
}

func (f *fakeStore) Count(context.Context) (int64, error) { return int64(len(f.fragments)), nil }
func (f *fakeStore) Name() string                         { return "fake-store" }

type fakeChat struct {
	calls atomic.Int32
	mu    sync.Mutex
	last  string
	fn    func(ctx context.Context, prompt string) (string, error)
}

func (f *fakeChat) Generate(ctx context.Context, prompt, _ string, _ llm.GenerateOptions) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = prompt
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, prompt)
	}
	return "generated answer", nil
}

func (f *fakeChat) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeChat) Name() string      { return "fake" }
func (f *fakeChat) ChatModel() string { return "fake-chat" }

// fastClient 使用毫秒级退避，避免测试等待。
func fastClient(backend string, registry *resilience.Registry) *resilience.Client {
	cfg := resilience.Config{
		Backend: backend,
		Retry: resilience.RetryConfig{
			MaxRetries: 2,
			BaseDelay:  time.Millisecond,
			MaxDelay:   2 * time.Millisecond,
		},
	}
	var b *resilience.Breaker
	if registry != nil {
		b = registry.Get(backend)
	}
	return resilience.NewClient(cfg, b)
}

func unavailable() error {
	return resilience.NewError(resilience.KindUnavailable, errBackendDown)
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const errBackendDown = sentinelError("backend down")

func newLocalTier(t *testing.T, now func() time.Time) *cache.LocalTier {
	t.Helper()
	tier, err := cache.NewLocalTier(64, now)
	require.NoError(t, err)
	return tier
}

func fragment(id string, score float64, text string) store.Fragment {
	return store.Fragment{
		ID:           id,
		DocumentID:   "doc-" + id,
		DocumentName: id + ".md",
		Section:      "intro",
		Text:         text,
		Score:        score,
	}
}
