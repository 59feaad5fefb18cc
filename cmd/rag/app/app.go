// Package app 实现 sentinel-rag 命令行。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kart-io/logger"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kart-io/sentinel-rag/cmd/rag/app/options"
	ragsvc "github.com/kart-io/sentinel-rag/internal/rag"
	"github.com/kart-io/sentinel-rag/internal/rag/biz"
	"github.com/kart-io/sentinel-rag/pkg/infra/app"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

const commandDesc = `sentinel-rag answers natural-language questions against a knowledge base.

Each question is embedded, matched against the vector store, assembled into a
bounded context and answered by a language model. Answers are cached in a
local LRU and an optional Redis tier. Backend calls go through retries with
exponential backoff and per-backend circuit breakers, and the service degrades
to a fallback answer instead of failing when a backend is unavailable.`

var errUnhealthy = errors.New("service is unhealthy")

// closeTimeout 退出时释放资源的最长时间。
const closeTimeout = 10 * time.Second

// NewApp 创建 sentinel-rag 应用。
func NewApp() *app.App {
	opts := options.NewOptions()
	return app.NewApp(
		app.WithName(ragsvc.Name),
		app.WithShortDescription("Retrieval-augmented question answering"),
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithCommands(newCommands(opts, os.Stdin, os.Stdout)...),
	)
}

func newCommands(opts *options.Options, in io.Reader, out io.Writer) []*app.Command {
	return []*app.Command{
		newAskCommand(opts, out),
		newBatchCommand(opts, out),
		newInteractiveCommand(opts, in, out),
		newStatsCommand(opts, out),
		newHealthCommand(opts, out),
		{
			Use:   "cache",
			Short: "Manage the answer cache",
			Commands: []*app.Command{
				newCacheClearCommand(opts, out),
			},
		},
	}
}

func newAskCommand(opts *options.Options, out io.Writer) *app.Command {
	qf := &queryFlags{}
	return &app.Command{
		Use:     "ask <question>",
		Short:   "Answer a single question",
		Example: `  sentinel-rag ask "What is the capital of France?" --top-k 3 --no-cache`,
		Args:    cobra.ExactArgs(1),
		Flags:   qf.addFlags,
		Run: func(ctx context.Context, args []string) error {
			return withService(ctx, opts, func(ctx context.Context, svc *ragsvc.Service) error {
				answer, err := svc.Answer(ctx, args[0], qf.apply(svc.DefaultParameters()), qf.deadlineAt())
				if err != nil {
					return err
				}
				return printJSON(out, answer)
			})
		},
	}
}

func newBatchCommand(opts *options.Options, out io.Writer) *app.Command {
	qf := &queryFlags{}
	return &app.Command{
		Use:     "batch <question>...",
		Short:   "Answer several questions concurrently",
		Example: `  sentinel-rag batch "What is RAG?" "How does Milvus index vectors?"`,
		Args:    cobra.MinimumNArgs(1),
		Flags:   qf.addFlags,
		Run: func(ctx context.Context, args []string) error {
			return withService(ctx, opts, func(ctx context.Context, svc *ragsvc.Service) error {
				results, err := svc.AnswerBatch(ctx, args, qf.apply(svc.DefaultParameters()), qf.deadlineAt())
				if err != nil {
					return err
				}
				return printJSON(out, newBatchOutput(results))
			})
		},
	}
}

func newStatsCommand(opts *options.Options, out io.Writer) *app.Command {
	var withMetrics bool
	return &app.Command{
		Use:   "stats",
		Short: "Show vector store, cache and circuit breaker status",
		Flags: func(fs *pflag.FlagSet) {
			fs.BoolVar(&withMetrics, "metrics", false, "Also print Prometheus metrics in text format.")
		},
		Run: func(ctx context.Context, _ []string) error {
			return withService(ctx, opts, func(ctx context.Context, svc *ragsvc.Service) error {
				if err := printJSON(out, svc.Stats(ctx)); err != nil {
					return err
				}
				if !withMetrics || svc.Gatherer() == nil {
					return nil
				}
				return writeMetrics(out, svc)
			})
		},
	}
}

func newHealthCommand(opts *options.Options, out io.Writer) *app.Command {
	return &app.Command{
		Use:   "health",
		Short: "Check vector store, model and cache connectivity",
		Long:  "Prints a health report and exits non-zero when the vector store or a model is unavailable.",
		Args:  cobra.NoArgs,
		Run: func(ctx context.Context, _ []string) error {
			return withService(ctx, opts, func(ctx context.Context, svc *ragsvc.Service) error {
				report := svc.Health(ctx)
				if err := printJSON(out, report); err != nil {
					return err
				}
				if !report.Healthy() {
					return errUnhealthy
				}
				return nil
			})
		},
	}
}

func newCacheClearCommand(opts *options.Options, out io.Writer) *app.Command {
	return &app.Command{
		Use:   "clear",
		Short: "Remove all cached answers",
		Args:  cobra.NoArgs,
		Run: func(ctx context.Context, _ []string) error {
			return withService(ctx, opts, func(ctx context.Context, svc *ragsvc.Service) error {
				n, err := svc.ClearCache(ctx)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(out, "cleared %d cached answers\n", n)
				return err
			})
		},
	}
}

// withService 创建服务、执行 fn 并在返回前释放资源。
func withService(ctx context.Context, opts *options.Options, fn func(ctx context.Context, svc *ragsvc.Service) error) error {
	svc, err := opts.Config(app.GetVersion()).NewService(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := svc.Close(closeCtx); err != nil {
			logger.Warnw("failed to release resources", "error", err.Error())
		}
		_ = logger.Flush()
	}()
	return fn(ctx, svc)
}

// queryFlags 查询参数 flag，只有显式设置的项覆盖配置中的默认值。
type queryFlags struct {
	fs          *pflag.FlagSet
	topK        int
	threshold   float64
	temperature float64
	maxTokens   int
	noCache     bool
	timeout     time.Duration
}

func (f *queryFlags) addFlags(fs *pflag.FlagSet) {
	f.fs = fs
	fs.IntVar(&f.topK, "top-k", 0, "Number of fragments to retrieve (1-20).")
	fs.Float64Var(&f.threshold, "threshold", 0, "Minimum similarity score (0-1).")
	fs.Float64Var(&f.temperature, "temperature", 0, "Sampling temperature (0-2).")
	fs.IntVar(&f.maxTokens, "max-tokens", 0, "Maximum tokens to generate.")
	fs.BoolVar(&f.noCache, "no-cache", false, "Bypass the answer cache.")
	fs.DurationVar(&f.timeout, "deadline", 0, "Overall deadline for the request, 0 uses rag.query-timeout.")
}

func (f *queryFlags) apply(p biz.Parameters) biz.Parameters {
	if f.fs == nil {
		return p
	}
	if f.fs.Changed("top-k") {
		p.TopK = f.topK
	}
	if f.fs.Changed("threshold") {
		p.SimilarityThreshold = f.threshold
	}
	if f.fs.Changed("temperature") {
		p.Temperature = f.temperature
	}
	if f.fs.Changed("max-tokens") {
		p.MaxTokens = f.maxTokens
	}
	if f.noCache {
		p.UseCache = false
	}
	return p
}

func (f *queryFlags) deadlineAt() time.Time {
	if f.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(f.timeout)
}

// batchItem 批量结果的输出格式，错误以文本形式给出。
type batchItem struct {
	Index    int         `json:"index"`
	Question string      `json:"question"`
	Answer   *biz.Answer `json:"answer,omitempty"`
	Error    string      `json:"error,omitempty"`
}

func newBatchOutput(results []biz.BatchResult) []batchItem {
	items := make([]batchItem, len(results))
	for i, r := range results {
		items[i] = batchItem{Index: r.Index, Question: r.Question, Answer: r.Answer}
		if r.Err != nil {
			items[i].Error = r.Err.Error()
		}
	}
	return items
}

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func writeMetrics(out io.Writer, svc *ragsvc.Service) error {
	families, err := svc.Gatherer().Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(out, mf); err != nil {
			return err
		}
	}
	return nil
}
