// Package metrics 提供 RAG 查询链路的 Prometheus 指标。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kart-io/sentinel-rag/pkg/resilience"
)

const namespace = "rag"

// 查询结果状态。
const (
	StatusSuccess  = "success"
	StatusCacheHit = "cache_hit"
	StatusDegraded = "degraded"
	StatusError    = "error"
)

// Metrics RAG 指标集合。所有方法在接收者为 nil 时不做任何事。
type Metrics struct {
	queries         *prometheus.CounterVec
	queryDuration   prometheus.Histogram
	stageDuration   *prometheus.HistogramVec
	cacheRequests   *prometheus.CounterVec
	retrieved       prometheus.Histogram
	inflight        prometheus.Gauge
	degraded        *prometheus.CounterVec
	backendCalls    *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	backendRetries  *prometheus.CounterVec
	circuitState    *prometheus.GaugeVec
}

var _ resilience.Observer = (*Metrics)(nil)

// New 在 reg 上注册指标，reg 为 nil 时使用独立的注册表。
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of answered queries by status.",
		}, []string{"status"}),
		queryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end query duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each query stage in seconds.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		}, []string{"stage"}),
		cacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Answer cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		retrieved: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieved_fragments",
			Help:      "Number of fragments kept after relevance filtering.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
		}),
		inflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "generation_inflight",
			Help:      "Number of generations currently holding a ticket.",
		}),
		degraded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_total",
			Help:      "Degraded responses by component.",
		}, []string{"component"}),
		backendCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_calls_total",
			Help:      "Outbound calls by backend and result.",
		}, []string{"backend", "result"}),
		backendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_call_duration_seconds",
			Help:      "Outbound call duration including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
		backendRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_retries_total",
			Help:      "Outbound call retries by backend.",
		}, []string{"backend"}),
		circuitState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		}, []string{"backend"}),
	}
}

// RecordQuery 记录一次查询的结果与总耗时。
func (m *Metrics) RecordQuery(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(status).Inc()
	m.queryDuration.Observe(elapsed.Seconds())
}

// RecordStage 记录单个阶段耗时。
func (m *Metrics) RecordStage(stage string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// RecordCache 记录缓存查找结果，result 为 hit、miss 或 error。
func (m *Metrics) RecordCache(tier, result string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(tier, result).Inc()
}

// RecordRetrieved 记录检索保留的片段数。
func (m *Metrics) RecordRetrieved(n int) {
	if m == nil {
		return
	}
	m.retrieved.Observe(float64(n))
}

// GenerationStarted 生成开始。
func (m *Metrics) GenerationStarted() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

// GenerationFinished 生成结束。
func (m *Metrics) GenerationFinished() {
	if m == nil {
		return
	}
	m.inflight.Dec()
}

// RecordDegraded 记录一次降级。
func (m *Metrics) RecordDegraded(component string) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(component).Inc()
}

// ObserveCall 实现 resilience.Observer。
func (m *Metrics) ObserveCall(backend string, kind resilience.Kind, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if kind != 0 {
		result = kind.String()
	}
	m.backendCalls.WithLabelValues(backend, result).Inc()
	m.backendDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
}

// ObserveRetry 实现 resilience.Observer。
func (m *Metrics) ObserveRetry(backend string) {
	if m == nil {
		return
	}
	m.backendRetries.WithLabelValues(backend).Inc()
}

// ObserveState 实现 resilience.Observer。
func (m *Metrics) ObserveState(backend string, state resilience.State) {
	if m == nil {
		return
	}
	m.circuitState.WithLabelValues(backend).Set(float64(state))
}
