package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kart-io/logger"
	"github.com/spf13/cobra"

	"github.com/kart-io/sentinel-rag/cmd/rag/app/options"
	ragsvc "github.com/kart-io/sentinel-rag/internal/rag"
	"github.com/kart-io/sentinel-rag/pkg/infra/app"
)

// 交互模式下的内置指令。
const (
	cmdStats  = "/stats"
	cmdHealth = "/health"
	cmdClear  = "/clear-cache"
	cmdQuit   = "/quit"
)

// maxLineSize 单行问题的最大字节数。
const maxLineSize = 64 << 10

func newInteractiveCommand(opts *options.Options, in io.Reader, out io.Writer) *app.Command {
	qf := &queryFlags{}
	return &app.Command{
		Use:   "interactive",
		Short: "Answer questions read from stdin, one per line",
		Long: `Keeps one service instance (connections, caches and circuit breakers) alive
and answers each input line as a question. Lines starting with "/" are commands:
/stats, /health, /clear-cache and /quit.`,
		Example: `  printf 'What is RAG?\nWhat is Milvus?\n' | sentinel-rag interactive`,
		Args:    cobra.NoArgs,
		Flags:   qf.addFlags,
		Run: func(ctx context.Context, _ []string) error {
			return withService(ctx, opts, func(ctx context.Context, svc *ragsvc.Service) error {
				return runInteractive(ctx, svc, qf, in, out)
			})
		},
	}
}

// lineError 单个问题失败时的输出，失败不结束会话。
type lineError struct {
	Question string `json:"question"`
	Error    string `json:"error"`
}

// runInteractive 逐行读取问题直到输入结束、收到 /quit 或 ctx 取消。
func runInteractive(ctx context.Context, svc *ragsvc.Service, qf *queryFlags, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	answered := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		var err error
		switch line {
		case "":
			continue
		case cmdQuit:
			logger.Infow("interactive session finished", "answered", answered)
			return nil
		case cmdStats:
			err = printJSON(out, svc.Stats(ctx))
		case cmdHealth:
			err = printJSON(out, svc.Health(ctx))
		case cmdClear:
			var n int64
			if n, err = svc.ClearCache(ctx); err == nil {
				_, err = fmt.Fprintf(out, "cleared %d cached answers\n", n)
			}
		default:
			answer, aerr := svc.Answer(ctx, line, qf.apply(svc.DefaultParameters()), qf.deadlineAt())
			if aerr != nil {
				err = printJSON(out, lineError{Question: line, Error: aerr.Error()})
				break
			}
			answered++
			err = printJSON(out, answer)
		}
		if err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read questions: %w", err)
	}
	logger.Infow("interactive session finished", "answered", answered)
	return nil
}
