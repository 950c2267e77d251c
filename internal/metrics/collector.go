package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器. 所有方法对 nil 接收者安全, 未接线指标时可直接传 nil.
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 检索指标
	retrievalsTotal   *prometheus.CounterVec
	retrievalDuration *prometheus.HistogramVec
	retrievedRecords  prometheus.Histogram

	// 嵌入指标
	embeddingFallbacksTotal prometheus.Counter

	// 存储指标
	storeInsertsTotal  *prometheus.CounterVec
	storeQueryDuration *prometheus.HistogramVec

	// 工作流指标
	workflowStepsTotal  *prometheus.CounterVec
	workflowChainsTotal *prometheus.CounterVec
	stepDuration        *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到给定的 Registerer.
// registerer 为 nil 时使用 prometheus.DefaultRegisterer.
func NewCollector(namespace string, registerer prometheus.Registerer, logger *zap.Logger) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promautoWith(registerer)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.counterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	c.httpRequestDuration = factory.histogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	c.retrievalsTotal = factory.counterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retrievals_total",
		Help:      "Total number of retrieval operations",
	}, []string{"namespace", "degraded"})

	c.retrievalDuration = factory.histogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "retrieval_duration_seconds",
		Help:      "Retrieval operation duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"namespace"})

	c.retrievedRecords = factory.histogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "retrieved_records",
		Help:      "Number of records returned per retrieval",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
	})

	c.embeddingFallbacksTotal = factory.counter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "embedding_fallbacks_total",
		Help:      "Total number of degraded embedding fallbacks",
	})

	c.storeInsertsTotal = factory.counterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_inserts_total",
		Help:      "Total number of memory store inserts",
	}, []string{"namespace", "memory_type"})

	c.storeQueryDuration = factory.histogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "store_query_duration_seconds",
		Help:      "Memory store query duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"namespace"})

	c.workflowStepsTotal = factory.counterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_steps_total",
		Help:      "Total number of workflow steps by terminal status",
	}, []string{"status"})

	c.workflowChainsTotal = factory.counterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "workflow_chains_total",
		Help:      "Total number of workflow chains by terminal status",
	}, []string{"status"})

	c.stepDuration = factory.histogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "workflow_step_duration_seconds",
		Help:      "Workflow step duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"agent_id"})

	return c
}

// RecordHTTPRequest 记录 HTTP 请求指标.
func (c *Collector) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRetrieval 记录一次检索.
func (c *Collector) RecordRetrieval(namespace string, degraded bool, hits int, duration time.Duration) {
	if c == nil {
		return
	}
	deg := "false"
	if degraded {
		deg = "true"
		c.embeddingFallbacksTotal.Inc()
	}
	c.retrievalsTotal.WithLabelValues(namespace, deg).Inc()
	c.retrievalDuration.WithLabelValues(namespace).Observe(duration.Seconds())
	c.retrievedRecords.Observe(float64(hits))
}

// RecordStoreInsert 记录一次存储插入.
func (c *Collector) RecordStoreInsert(namespace, memoryType string) {
	if c == nil {
		return
	}
	c.storeInsertsTotal.WithLabelValues(namespace, memoryType).Inc()
}

// RecordStoreQuery 记录一次存储查询.
func (c *Collector) RecordStoreQuery(namespace string, duration time.Duration) {
	if c == nil {
		return
	}
	c.storeQueryDuration.WithLabelValues(namespace).Observe(duration.Seconds())
}

// RecordWorkflowStep 记录步骤终态.
func (c *Collector) RecordWorkflowStep(status, agentID string, duration time.Duration) {
	if c == nil {
		return
	}
	c.workflowStepsTotal.WithLabelValues(status).Inc()
	c.stepDuration.WithLabelValues(agentID).Observe(duration.Seconds())
}

// RecordWorkflowChain 记录链终态.
func (c *Collector) RecordWorkflowChain(status string) {
	if c == nil {
		return
	}
	c.workflowChainsTotal.WithLabelValues(status).Inc()
}

// =============================================================================
// 注册辅助
// =============================================================================

// factory mirrors promauto but against an arbitrary registerer, so tests can
// use isolated registries.
type factory struct{ reg prometheus.Registerer }

func promautoWith(reg prometheus.Registerer) factory { return factory{reg: reg} }

func (f factory) counter(opts prometheus.CounterOpts) prometheus.Counter {
	m := prometheus.NewCounter(opts)
	f.reg.MustRegister(m)
	return m
}

func (f factory) counterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	m := prometheus.NewCounterVec(opts, labels)
	f.reg.MustRegister(m)
	return m
}

func (f factory) histogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	m := prometheus.NewHistogram(opts)
	f.reg.MustRegister(m)
	return m
}

func (f factory) histogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	m := prometheus.NewHistogramVec(opts, labels)
	f.reg.MustRegister(m)
	return m
}
