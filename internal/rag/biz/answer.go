package biz

import (
	"time"

	"github.com/kart-io/sentinel-rag/internal/rag/store"
)

// previewLength 来源预览的字符数。
const previewLength = 200

// Context 组装后的提示上下文。
type Context struct {
	Fragments   []store.Fragment `json:"fragments"`
	TotalLength int              `json:"total_length"`
	// LowConfidence 没有达到阈值的片段可用。
	LowConfidence bool `json:"low_confidence"`
	// Degraded 检索阶段降级，上下文可能缺失。
	Degraded bool `json:"degraded"`
}

// TopScore 返回上下文中最高的相似度。
func (c Context) TopScore() float64 {
	top := 0.0
	for _, f := range c.Fragments {
		if f.Score > top {
			top = f.Score
		}
	}
	return top
}

// Source 答案引用的片段。
type Source struct {
	FragmentID   string  `json:"fragment_id"`
	DocumentID   string  `json:"document_id"`
	DocumentName string  `json:"document_name"`
	Section      string  `json:"section,omitempty"`
	Score        float64 `json:"score"`
	Preview      string  `json:"preview"`
}

// RetrievalStats 检索统计。
type RetrievalStats struct {
	Retrieved           int     `json:"retrieved"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	AvgSimilarity       float64 `json:"avg_similarity"`
	Degraded            bool    `json:"degraded"`
}

// TokenUsage 估算的 token 用量。
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// LatencyBreakdown 各阶段耗时。
type LatencyBreakdown struct {
	Stages map[State]time.Duration `json:"stages"`
	Total  time.Duration           `json:"total"`
}

// Answer 一次查询的结果，返回后不再修改。
type Answer struct {
	QueryID        string           `json:"query_id"`
	Question       string           `json:"question"`
	Text           string           `json:"text"`
	Sources        []Source         `json:"sources"`
	Confidence     float64          `json:"confidence"`
	Latency        LatencyBreakdown `json:"latency"`
	CacheHit       bool             `json:"cache_hit"`
	Degraded       bool             `json:"degraded"`
	LowConfidence  bool             `json:"low_confidence"`
	RetrievalStats RetrievalStats   `json:"retrieval_stats"`
	TokenUsage     TokenUsage       `json:"token_usage"`
	Model          string           `json:"model"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Clone 深拷贝答案。
func (a *Answer) Clone() *Answer {
	if a == nil {
		return nil
	}
	c := *a
	if a.Sources != nil {
		c.Sources = append([]Source(nil), a.Sources...)
	}
	if a.Latency.Stages != nil {
		c.Latency.Stages = make(map[State]time.Duration, len(a.Latency.Stages))
		for k, v := range a.Latency.Stages {
			c.Latency.Stages[k] = v
		}
	}
	return &c
}

// BatchResult 批量问答中单个问题的结果，Answer 与 Err 二选一。
type BatchResult struct {
	Index    int     `json:"index"`
	Question string  `json:"question"`
	Answer   *Answer `json:"answer,omitempty"`
	Err      error   `json:"-"`
}

func newSources(fragments []store.Fragment) []Source {
	sources := make([]Source, 0, len(fragments))
	for _, f := range fragments {
		sources = append(sources, Source{
			FragmentID:   f.ID,
			DocumentID:   f.DocumentID,
			DocumentName: f.DocumentName,
			Section:      f.Section,
			Score:        f.Score,
			Preview:      truncateRunes(f.Text, previewLength),
		})
	}
	return sources
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
