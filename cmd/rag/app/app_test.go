package app

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/cmd/rag/app/options"
	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/internal/rag/store"
	"github.com/kart-io/sentinel-rag/pkg/infra/app"
	utilerrors "github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

func newOllamaServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			_, _ = w.Write([]byte(`{"embeddings":[[1,0]]}`))
		case "/api/generate":
			_, _ = w.Write([]byte(`{"response":"Paris is the capital of France.","done":true}`))
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"nomic-embed-text:latest"},{"name":"qwen2.5:7b-instruct"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeStore(t *testing.T) string {
	t.Helper()
	data, err := json.Marshal([]store.Fragment{
		{ID: "f1", DocumentID: "d1", DocumentName: "france.md", Section: "Capital", Text: "Paris is the capital.", Embedding: []float32{1, 0}},
	})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "fragments.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func newTestApp(out *bytes.Buffer) *app.App {
	return newTestAppWithInput(strings.NewReader(""), out)
}

func newTestAppWithInput(in io.Reader, out *bytes.Buffer) *app.App {
	opts := options.NewOptions()
	return app.NewApp(
		app.WithName("sentinel-rag-test"),
		app.WithOptions(opts),
		app.WithCommands(newCommands(opts, in, out)...),
		app.WithSilence(),
	)
}

func backendArgs(t *testing.T) []string {
	srv := newOllamaServer(t)
	return []string{
		"--rag.store", "memory",
		"--rag.memory-store-path", writeStore(t),
		"--embedding.base-url", srv.URL,
		"--chat.base-url", srv.URL,
		"--cache.shared-enabled=false",
		"--log.level", "ERROR",
	}
}

func TestAskCommand(t *testing.T) {
	var out bytes.Buffer
	a := newTestApp(&out)
	args := append([]string{"ask", "What is the capital of France?", "--top-k", "3"}, backendArgs(t)...)
	a.Command().SetArgs(args)
	require.NoError(t, a.Command().Execute())

	var answer biz.Answer
	require.NoError(t, json.Unmarshal(out.Bytes(), &answer))
	assert.Equal(t, "Paris is the capital of France.", answer.Text)
	assert.Equal(t, "What is the capital of France?", answer.Question)
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "f1", answer.Sources[0].FragmentID)
	assert.False(t, answer.Degraded)
}

func TestBatchCommand(t *testing.T) {
	var out bytes.Buffer
	a := newTestApp(&out)
	args := append([]string{"batch", "first question", "second question"}, backendArgs(t)...)
	a.Command().SetArgs(args)
	require.NoError(t, a.Command().Execute())

	var results []batchItem
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "first question", results[0].Question)
	assert.Equal(t, "second question", results[1].Question)
	for _, r := range results {
		assert.Empty(t, r.Error)
		require.NotNil(t, r.Answer)
		assert.Equal(t, "Paris is the capital of France.", r.Answer.Text)
	}
}

func TestAskCommand_InvalidParameters(t *testing.T) {
	var out bytes.Buffer
	a := newTestApp(&out)
	args := append([]string{"ask", "question", "--top-k", "50"}, backendArgs(t)...)
	a.Command().SetArgs(args)
	err := a.Command().Execute()
	require.Error(t, err)
	assert.Empty(t, out.String())
}

func TestCacheClearCommand(t *testing.T) {
	var out bytes.Buffer
	a := newTestApp(&out)
	args := append([]string{"cache", "clear"}, backendArgs(t)...)
	a.Command().SetArgs(args)
	require.NoError(t, a.Command().Execute())
	assert.Equal(t, "cleared 0 cached answers\n", out.String())
}

func TestStatsCommand_Metrics(t *testing.T) {
	var out bytes.Buffer
	a := newTestApp(&out)
	args := append([]string{"stats", "--metrics"}, backendArgs(t)...)
	a.Command().SetArgs(args)
	require.NoError(t, a.Command().Execute())

	assert.Contains(t, out.String(), `"store": "memory/`)
	assert.Contains(t, out.String(), "# TYPE rag_generation_inflight gauge")
}

func TestHealthCommand(t *testing.T) {
	tests := []struct {
		name      string
		chatURL   func(t *testing.T) string
		wantErr   bool
		wantState string
	}{
		{
			name:      "all backends up",
			chatURL:   func(t *testing.T) string { return newOllamaServer(t).URL },
			wantState: "healthy",
		},
		{
			name: "chat model down",
			chatURL: func(t *testing.T) string {
				srv := httptest.NewServer(http.NotFoundHandler())
				t.Cleanup(srv.Close)
				return srv.URL
			},
			wantErr:   true,
			wantState: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			a := newTestApp(&out)
			// 后写的 --chat.base-url 覆盖 backendArgs 中的地址
			args := append([]string{"health"}, backendArgs(t)...)
			args = append(args, "--chat.base-url", tt.chatURL(t))
			a.Command().SetArgs(args)

			err := a.Command().Execute()
			if tt.wantErr {
				assert.ErrorIs(t, err, errUnhealthy)
			} else {
				require.NoError(t, err)
			}

			var report struct {
				Status     string `json:"status"`
				Components map[string]struct {
					Status string `json:"status"`
				} `json:"components"`
			}
			require.NoError(t, json.Unmarshal(out.Bytes(), &report))
			assert.Equal(t, tt.wantState, report.Status)
			assert.Equal(t, "healthy", report.Components["vector_store"].Status)
			assert.Equal(t, "healthy", report.Components["embedding"].Status)
			assert.Equal(t, "healthy", report.Components["cache"].Status)
		})
	}
}

func TestInteractiveCommand(t *testing.T) {
	var out bytes.Buffer
	// 1. 两个问题之间夹一个空行与内置指令，第二个问题命中缓存
	input := strings.Join([]string{
		"What is the capital of France?",
		"",
		"/stats",
		"What is the capital of France?",
		"/quit",
		"never answered",
	}, "\n")
	a := newTestAppWithInput(strings.NewReader(input), &out)
	a.Command().SetArgs(append([]string{"interactive"}, backendArgs(t)...))
	require.NoError(t, a.Command().Execute())

	// 2. /quit 之后的输入不再处理
	raw := out.String()
	assert.NotContains(t, raw, "never answered")

	// 3. 按输出顺序解码
	dec := json.NewDecoder(strings.NewReader(raw))
	var first, second biz.Answer
	var stats biz.Stats
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&stats))
	require.NoError(t, dec.Decode(&second))

	assert.Equal(t, "Paris is the capital of France.", first.Text)
	assert.False(t, first.CacheHit)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Sources, second.Sources)
	assert.EqualValues(t, 1, stats.LocalCacheEntries)
}

func TestInteractiveCommand_InvalidQuestionKeepsSession(t *testing.T) {
	var out bytes.Buffer
	input := strings.Repeat("x", 1001) + "\nWhat is the capital of France?\n"
	a := newTestAppWithInput(strings.NewReader(input), &out)
	a.Command().SetArgs(append([]string{"interactive"}, backendArgs(t)...))
	require.NoError(t, a.Command().Execute())

	dec := json.NewDecoder(&out)
	var failed lineError
	var answer biz.Answer
	require.NoError(t, dec.Decode(&failed))
	require.NoError(t, dec.Decode(&answer))
	assert.NotEmpty(t, failed.Error)
	assert.Equal(t, "Paris is the capital of France.", answer.Text)
}

func TestNewBatchOutput(t *testing.T) {
	items := newBatchOutput([]biz.BatchResult{
		{Index: 0, Question: "ok", Answer: &biz.Answer{Text: "yes"}},
		{Index: 1, Question: "bad", Err: utilerrors.ErrOverloaded},
	})

	require.Len(t, items, 2)
	assert.Empty(t, items[0].Error)
	assert.Equal(t, "yes", items[0].Answer.Text)
	assert.Nil(t, items[1].Answer)
	assert.Equal(t, utilerrors.ErrOverloaded.Error(), items[1].Error)
}

func TestQueryFlags_Apply(t *testing.T) {
	qf := &queryFlags{}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	qf.addFlags(fs)
	require.NoError(t, fs.Parse([]string{"--top-k", "3", "--no-cache", "--temperature", "0"}))

	defaults := biz.DefaultParameters()
	p := qf.apply(defaults)

	assert.Equal(t, 3, p.TopK)
	assert.False(t, p.UseCache)
	assert.Zero(t, p.Temperature)
	assert.Equal(t, defaults.SimilarityThreshold, p.SimilarityThreshold)
	assert.Equal(t, defaults.MaxTokens, p.MaxTokens)
	assert.True(t, qf.deadlineAt().IsZero())
}

func TestQueryFlags_Deadline(t *testing.T) {
	qf := &queryFlags{}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	qf.addFlags(fs)
	require.NoError(t, fs.Parse([]string{"--deadline", "30s"}))

	assert.False(t, qf.deadlineAt().IsZero())
}
