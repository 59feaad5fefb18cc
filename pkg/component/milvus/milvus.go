// Package milvus 封装检索侧使用的 Milvus 客户端。
package milvus

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	milvusopts "github.com/kart-io/sentinel-rag/pkg/options/milvus"
)

// VectorField 集合中向量字段名。
const VectorField = "embedding"

// Client 封装 Milvus SDK 客户端。
type Client struct {
	client *milvusclient.Client
	opts   *milvusopts.Options

	// loaded 已加载到内存的集合
	loaded sync.Map
}

// New 创建 Milvus 客户端。
func New(ctx context.Context, opts *milvusopts.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("milvus options is nil")
	}
	if err := utilerrors.NewAggregate(opts.Validate()); err != nil {
		return nil, fmt.Errorf("invalid milvus options: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  opts.Address,
		Username: opts.Username,
		Password: opts.Password,
		DBName:   opts.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}

	return &Client{client: c, opts: opts}, nil
}

// Close 关闭连接。
func (c *Client) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}

// MetricType 返回集合索引使用的度量。
func (c *Client) MetricType() string {
	return c.opts.MetricType
}

// SearchResult 单条检索结果。Score 为 Milvus 原始分数，含义取决于度量。
type SearchResult struct {
	ID       int64
	Score    float32
	Metadata map[string]any
}

// Search 执行向量检索。
func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK int, outputFields []string) ([]SearchResult, error) {
	if err := c.ensureLoaded(ctx, collection); err != nil {
		return nil, err
	}

	results, err := c.client.Search(ctx, milvusclient.NewSearchOption(
		collection,
		topK,
		[]entity.Vector{entity.FloatVector(vector)},
	).WithANNSField(VectorField).
		WithSearchParam("nprobe", strconv.Itoa(c.opts.NProbe)).
		WithOutputFields(outputFields...))
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	if len(results) == 0 {
		return []SearchResult{}, nil
	}

	rs := results[0]
	out := make([]SearchResult, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		r := SearchResult{
			Score:    rs.Scores[i],
			Metadata: make(map[string]any, len(rs.Fields)),
		}
		if idCol, ok := rs.IDs.(*column.ColumnInt64); ok {
			r.ID = idCol.Data()[i]
		}
		for _, field := range rs.Fields {
			switch col := field.(type) {
			case *column.ColumnVarChar:
				r.Metadata[col.Name()] = col.Data()[i]
			case *column.ColumnInt64:
				r.Metadata[col.Name()] = col.Data()[i]
			case *column.ColumnInt32:
				r.Metadata[col.Name()] = int64(col.Data()[i])
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// Count 返回集合中的实体数量。
func (c *Client) Count(ctx context.Context, collection string) (int64, error) {
	stats, err := c.client.GetCollectionStats(ctx, milvusclient.NewGetCollectionStatsOption(collection))
	if err != nil {
		return 0, fmt.Errorf("failed to get collection stats: %w", err)
	}
	if val, ok := stats["row_count"]; ok {
		return strconv.ParseInt(val, 10, 64)
	}
	return 0, nil
}

func (c *Client) ensureLoaded(ctx context.Context, collection string) error {
	if _, ok := c.loaded.Load(collection); ok {
		return nil
	}

	task, err := c.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(collection))
	if err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}
	if err := task.Await(ctx); err != nil {
		return fmt.Errorf("failed to wait for collection loading: %w", err)
	}
	c.loaded.Store(collection, struct{}{})
	return nil
}
