package biz

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/pkg/llm"
	"github.com/kart-io/sentinel-rag/pkg/resilience"
	utilerrors "github.com/kart-io/sentinel-rag/pkg/utils/errors"
)

// FallbackAnswer 生成服务不可用时返回的答案。
const FallbackAnswer = "抱歉，问答服务暂时不可用，请稍后重试。"

// DefaultPromptTemplate 内置提示词模板，{{context}} 和 {{question}} 会被替换。
const DefaultPromptTemplate = `你是一个专业的知识库问答助手。请基于提供的相关文档内容来回答用户的问题。

回答要求：
1. 仅基于提供的文档内容进行回答，不要添加文档中没有的信息
2. 如果文档内容不足以回答问题，请明确说明
3. 回答要准确、简洁、有条理
4. 如果可能，请引用具体的文档片段

相关文档内容：
{{context}}

用户问题：{{question}}

请基于上述文档内容回答用户问题：`

// 模板占位符。
const (
	placeholderContext  = "{{context}}"
	placeholderQuestion = "{{question}}"
)

// noContextMarker 上下文为空时写入提示词的内容。
const noContextMarker = "（知识库中没有找到与问题相关的文档）"

// 置信度取值。
const (
	lowConfidenceScore = 0.1
	minContextScore    = 0.2
)

// GeneratorConfig 生成器配置。
type GeneratorConfig struct {
	// SystemPrompt 提示词模板，{{context}} 和 {{question}} 会被替换，为空时使用 DefaultPromptTemplate。
	// 缺少占位符时上下文和问题追加在模板之后。
	SystemPrompt string
}

// AnswerGenerator 负责答案生成。
type AnswerGenerator struct {
	chat   llm.ChatProvider
	config GeneratorConfig
	now    func() time.Time
}

// NewAnswerGenerator 创建生成器，chat 通常是 llm.ResilientChatProvider。
func NewAnswerGenerator(chat llm.ChatProvider, config GeneratorConfig) *AnswerGenerator {
	if strings.TrimSpace(config.SystemPrompt) == "" {
		config.SystemPrompt = DefaultPromptTemplate
	}
	if !strings.Contains(config.SystemPrompt, placeholderContext) {
		config.SystemPrompt += "\n\n" + placeholderContext
	}
	if !strings.Contains(config.SystemPrompt, placeholderQuestion) {
		config.SystemPrompt += "\n\n" + placeholderQuestion
	}
	return &AnswerGenerator{chat: chat, config: config, now: time.Now}
}

// Model 返回生成模型名称。
func (g *AnswerGenerator) Model() string {
	return g.chat.ChatModel()
}

// Provider 返回生成供应商名称。
func (g *AnswerGenerator) Provider() string {
	return g.chat.Name()
}

// Generate 根据上下文生成答案。模型熔断或重试耗尽时返回降级答案，
// 只有参数错误和截止时间到达才返回错误。
func (g *AnswerGenerator) Generate(ctx context.Context, q Query, c Context) (*Answer, error) {
	prompt := g.buildPrompt(q.Raw, c)

	text, err := g.chat.Generate(ctx, prompt, "", llm.GenerateOptions{
		Temperature: q.Params.Temperature,
		MaxTokens:   q.Params.MaxTokens,
	})
	if err != nil {
		switch {
		case ctx.Err() != nil || resilience.KindOf(err) == resilience.KindDeadline:
			return nil, err
		case resilience.KindOf(err) == resilience.KindInvalidInput:
			return nil, utilerrors.ErrInvalidInput.WithCause(err)
		}
		logger.Warnw("generation unavailable, returning fallback answer",
			"query_id", q.ID,
			"kind", resilience.KindOf(err).String(),
			"error", err.Error(),
		)
		return g.fallback(q, c), nil
	}

	completion := estimateTokens(text)
	promptTokens := estimateTokens(prompt)
	return &Answer{
		QueryID:       q.ID,
		Question:      q.Raw,
		Text:          text,
		Sources:       newSources(c.Fragments),
		Confidence:    Confidence(c),
		LowConfidence: c.LowConfidence,
		TokenUsage: TokenUsage{
			Prompt:     promptTokens,
			Completion: completion,
			Total:      promptTokens + completion,
		},
		Model:     g.chat.ChatModel(),
		CreatedAt: g.now(),
	}, nil
}

func (g *AnswerGenerator) fallback(q Query, c Context) *Answer {
	return &Answer{
		QueryID:       q.ID,
		Question:      q.Raw,
		Text:          FallbackAnswer,
		Sources:       newSources(c.Fragments),
		Confidence:    0,
		Degraded:      true,
		LowConfidence: c.LowConfidence,
		Model:         g.chat.ChatModel(),
		CreatedAt:     g.now(),
	}
}

func (g *AnswerGenerator) buildPrompt(question string, c Context) string {
	var b strings.Builder
	if len(c.Fragments) == 0 {
		b.WriteString(noContextMarker)
	}
	for i, f := range c.Fragments {
		fmt.Fprintf(&b, "[%d] From %s - %s:\n%s\n\n", i+1, f.DocumentName, f.Section, f.Text)
	}

	prompt := strings.ReplaceAll(g.config.SystemPrompt, placeholderContext, b.String())
	return strings.ReplaceAll(prompt, placeholderQuestion, question)
}

// Confidence 计算答案置信度：低置信度上下文为 0.1，否则为 0.2+0.8*最高相似度。
func Confidence(c Context) float64 {
	if c.LowConfidence || len(c.Fragments) == 0 {
		return lowConfidenceScore
	}
	return minContextScore + (1-minContextScore)*clamp01(c.TopScore())
}

// estimateTokens 按每 4 个字符 1 个 token 估算，非空文本至少为 1。
func estimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	if n < 4 {
		return 1
	}
	return n / 4
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
