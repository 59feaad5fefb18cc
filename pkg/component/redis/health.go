package redis

import (
	"context"
	"time"
)

// HealthStats Redis 连接健康信息。
type HealthStats struct {
	Healthy    bool          `json:"healthy"`
	Latency    time.Duration `json:"latency"`
	TotalConns uint32        `json:"total_conns"`
	IdleConns  uint32        `json:"idle_conns"`
	Timeouts   uint32        `json:"timeouts"`
	Error      string        `json:"error,omitempty"`
}

// Health 执行一次 PING 并返回连接池统计。
func (c *Client) Health(ctx context.Context) HealthStats {
	start := time.Now()
	err := c.Ping(ctx)

	ps := c.client.PoolStats()
	stats := HealthStats{
		Healthy:    err == nil,
		Latency:    time.Since(start),
		TotalConns: ps.TotalConns,
		IdleConns:  ps.IdleConns,
		Timeouts:   ps.Timeouts,
	}
	if err != nil {
		stats.Error = err.Error()
	}
	return stats
}
