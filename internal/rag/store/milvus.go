package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kart-io/sentinel-rag/pkg/component/milvus"
	milvusopts "github.com/kart-io/sentinel-rag/pkg/options/milvus"
)

// 集合中的元数据字段。
const (
	fieldChunkID      = "chunk_id"
	fieldDocumentID   = "document_id"
	fieldDocumentName = "document_name"
	fieldSection      = "section"
	fieldContent      = "content"
)

var outputFields = []string{fieldChunkID, fieldDocumentID, fieldDocumentName, fieldSection, fieldContent}

// Searcher Milvus 客户端中检索需要的部分。
type Searcher interface {
	Search(ctx context.Context, collection string, vector []float32, topK int, outputFields []string) ([]milvus.SearchResult, error)
	Count(ctx context.Context, collection string) (int64, error)
	MetricType() string
}

var _ Searcher = (*milvus.Client)(nil)

// MilvusStore 基于 Milvus 集合的向量存储。
type MilvusStore struct {
	client     Searcher
	collection string
}

// NewMilvusStore 创建 Milvus 存储。
func NewMilvusStore(client Searcher, collection string) *MilvusStore {
	return &MilvusStore{client: client, collection: collection}
}

// Name 返回存储名称。
func (s *MilvusStore) Name() string {
	return "milvus/" + s.collection
}

// Search 执行向量检索，并把 Milvus 分数换算为 [0,1] 相似度。
func (s *MilvusStore) Search(ctx context.Context, vector []float32, topK int) ([]Fragment, error) {
	results, err := s.client.Search(ctx, s.collection, vector, topK, outputFields)
	if err != nil {
		return nil, fmt.Errorf("failed to search milvus: %w", err)
	}

	metric := s.client.MetricType()
	fragments := make([]Fragment, 0, len(results))
	for _, r := range results {
		id := stringField(r.Metadata, fieldChunkID)
		if id == "" {
			id = strconv.FormatInt(r.ID, 10)
		}
		fragments = append(fragments, Fragment{
			ID:           id,
			DocumentID:   stringField(r.Metadata, fieldDocumentID),
			DocumentName: stringField(r.Metadata, fieldDocumentName),
			Section:      stringField(r.Metadata, fieldSection),
			Text:         stringField(r.Metadata, fieldContent),
			Score:        Similarity(metric, r.Score),
		})
	}
	return fragments, nil
}

// Count 返回集合中的片段数。
func (s *MilvusStore) Count(ctx context.Context) (int64, error) {
	return s.client.Count(ctx, s.collection)
}

// Similarity 把度量分数换算为相似度。L2 返回的是距离，换算为 1-distance。
func Similarity(metric string, score float32) float64 {
	switch strings.ToUpper(metric) {
	case milvusopts.MetricL2:
		return clamp01(1 - float64(score))
	default:
		return clamp01(float64(score))
	}
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

var _ VectorStore = (*MilvusStore)(nil)
