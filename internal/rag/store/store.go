// Package store 定义检索使用的向量存储接口及其实现。
package store

import (
	"context"
	"errors"
)

// ErrDimensionMismatch 向量维度不一致。
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Fragment 文档片段及其与查询的相似度。
type Fragment struct {
	// ID 片段 ID，同分时用于稳定排序。
	ID string `json:"id"`
	// DocumentID 所属文档 ID。
	DocumentID string `json:"document_id"`
	// DocumentName 文档名称。
	DocumentName string `json:"document_name"`
	// Section 所属章节。
	Section string `json:"section"`
	// Text 片段正文。
	Text string `json:"text"`
	// Embedding 片段向量，检索结果中可以为空。
	Embedding []float32 `json:"embedding,omitempty"`
	// Score 相似度，范围 [0,1]，越大越相关。
	Score float64 `json:"score"`
}

// VectorStore 向量存储的只读检索接口。
type VectorStore interface {
	// Search 返回与 vector 最相似的至多 topK 个片段。
	Search(ctx context.Context, vector []float32, topK int) ([]Fragment, error)
	// Count 返回片段总数。
	Count(ctx context.Context) (int64, error)
	// Name 返回存储名称，用于日志与统计。
	Name() string
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
