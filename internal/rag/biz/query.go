package biz

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	utilerrors "github.com/kart-io/sentinel-rag/pkg/utils/errors"
	"github.com/kart-io/sentinel-rag/pkg/validator"
)

// MaxQuestionLength 问题的最大字符数。
const MaxQuestionLength = 1000

// Parameters 单次查询的检索与生成参数。
type Parameters struct {
	TopK                int     `json:"top_k" validate:"min=1,max=20"`
	SimilarityThreshold float64 `json:"similarity_threshold" validate:"min=0,max=1"`
	Temperature         float64 `json:"temperature" validate:"min=0,max=2"`
	MaxTokens           int     `json:"max_tokens" validate:"min=1,max=8192"`
	UseCache            bool    `json:"use_cache"`
}

// DefaultParameters 返回默认参数。
func DefaultParameters() Parameters {
	return Parameters{
		TopK:                5,
		SimilarityThreshold: 0.7,
		Temperature:         0.7,
		MaxTokens:           2000,
		UseCache:            true,
	}
}

// Validate 校验参数范围。
func (p Parameters) Validate() error {
	if errs := validator.StructWithLang(p, validator.LangEN); errs.HasErrors() {
		return utilerrors.ErrInvalidInput.WithCause(errs)
	}
	return nil
}

type questionInput struct {
	Question string `json:"question" validate:"notblank,max=1000"`
}

// Query 一次查询，创建后不再修改。
type Query struct {
	// ID 查询 ID（ULID）。
	ID string `json:"id"`
	// Raw 去除首尾空白后的原始问题。
	Raw string `json:"raw"`
	// Normalized 归一化后的问题，作为缓存键的基础。
	Normalized string     `json:"normalized"`
	Params     Parameters `json:"params"`
	Deadline   time.Time  `json:"deadline"`
}

// NewQuery 校验问题与参数并创建查询。
func NewQuery(raw string, params Parameters, deadline time.Time) (Query, error) {
	raw = strings.TrimSpace(raw)
	if errs := validator.StructWithLang(questionInput{Question: raw}, validator.LangEN); errs.HasErrors() {
		return Query{}, utilerrors.ErrInvalidInput.WithCause(errs)
	}
	if err := params.Validate(); err != nil {
		return Query{}, err
	}

	return Query{
		ID:         ulid.Make().String(),
		Raw:        raw,
		Normalized: Normalize(raw),
		Params:     params,
		Deadline:   deadline,
	}, nil
}

// Normalize 合并连续空白并转为小写。
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
