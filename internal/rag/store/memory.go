package store

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/kart-io/sentinel-rag/pkg/resilience"
	"github.com/kart-io/sentinel-rag/pkg/utils/json"
)

// MemoryStore 进程内暴力检索的向量存储，用于本地运行与测试。
type MemoryStore struct {
	name string

	mu        sync.RWMutex
	dim       int
	fragments []Fragment
}

// NewMemoryStore 创建空的内存存储。
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{name: name}
}

// LoadMemoryStore 从 JSON 文件加载片段，文件内容为 Fragment 数组。
func LoadMemoryStore(name, path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fragments file: %w", err)
	}
	var fragments []Fragment
	if err := json.Unmarshal(data, &fragments); err != nil {
		return nil, fmt.Errorf("decode fragments file %s: %w", path, err)
	}

	s := NewMemoryStore(name)
	if err := s.Add(fragments...); err != nil {
		return nil, err
	}
	return s, nil
}

// Name 返回存储名称。
func (s *MemoryStore) Name() string {
	return "memory/" + s.name
}

// Add 添加片段，所有片段的向量维度必须一致。
func (s *MemoryStore) Add(fragments ...Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range fragments {
		if len(f.Embedding) == 0 {
			return fmt.Errorf("fragment %q has no embedding", f.ID)
		}
		if s.dim == 0 {
			s.dim = len(f.Embedding)
		}
		if len(f.Embedding) != s.dim {
			return fmt.Errorf("fragment %q: %w: got %d, want %d", f.ID, ErrDimensionMismatch, len(f.Embedding), s.dim)
		}
		s.fragments = append(s.fragments, f)
	}
	return nil
}

// Search 按余弦相似度返回至多 topK 个片段。
func (s *MemoryStore) Search(ctx context.Context, vector []float32, topK int) ([]Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dim != 0 && len(vector) != s.dim {
		return nil, resilience.NewError(resilience.KindInvalidInput,
			fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), s.dim))
	}

	out := make([]Fragment, 0, len(s.fragments))
	for _, f := range s.fragments {
		hit := f
		hit.Embedding = nil
		hit.Score = clamp01(cosine(vector, f.Embedding))
		out = append(out, hit)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// Count 返回片段数。
func (s *MemoryStore) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.fragments)), nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var _ VectorStore = (*MemoryStore)(nil)
