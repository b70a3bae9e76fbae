// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。
//
// 同时实现 fixer.Recorder、gateway.Recorder、catalog.CacheRecorder 与
// repair.Recorder，由 cmd/graphrepair 统一注入。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 校验网关指标
	gatewayRequestsTotal   *prometheus.CounterVec
	gatewayRequestDuration *prometheus.HistogramVec

	// 修复流程指标
	repairRunsTotal       *prometheus.CounterVec
	repairIterations      *prometheus.HistogramVec
	strategyDispatchTotal *prometheus.CounterVec
	fixesTotal            *prometheus.CounterVec
	checkpointWritesTotal *prometheus.CounterVec
	activeRuns            prometheus.Gauge

	// 节点目录缓存指标
	catalogCacheTotal *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 校验网关指标
	c.gatewayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Total number of validation gateway requests",
		},
		[]string{"outcome"}, // outcome: success, invalid, timeout, unavailable
	)

	c.gatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Validation gateway request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"outcome"},
	)

	// 修复流程指标
	c.repairRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repair_runs_total",
			Help:      "Total number of finished repair runs",
		},
		[]string{"status"},
	)

	c.repairIterations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "repair_iterations",
			Help:      "Validations performed per repair run",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 30},
		},
		[]string{"status"},
	)

	c.strategyDispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_dispatch_total",
			Help:      "Total number of repair strategy dispatches",
		},
		[]string{"strategy"},
	)

	c.fixesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fixes_total",
			Help:      "Total number of graph edits attempted",
		},
		[]string{"kind", "result"},
	)

	c.checkpointWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_writes_total",
			Help:      "Total number of checkpoints written",
		},
		[]string{"checkpoint_type"},
	)

	c.activeRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "repair_runs_active",
			Help:      "Number of repair runs in progress",
		},
	)

	// 节点目录缓存指标
	c.catalogCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_cache_total",
			Help:      "Node catalog cache lookups by result",
		},
		[]string{"result"}, // result: hit, miss, shared_hit, error
	)

	// 数据库指标
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database", "operation"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🌐 校验网关指标记录
// =============================================================================

// RecordGatewayRequest 记录一次校验请求（实现 gateway.Recorder）
func (c *Collector) RecordGatewayRequest(outcome string, duration time.Duration) {
	c.gatewayRequestsTotal.WithLabelValues(outcome).Inc()
	c.gatewayRequestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 修复流程指标记录
// =============================================================================

// RecordRepairRun 记录一次结束的修复运行（实现 repair.Recorder）
func (c *Collector) RecordRepairRun(status string, iterations int) {
	c.repairRunsTotal.WithLabelValues(status).Inc()
	c.repairIterations.WithLabelValues(status).Observe(float64(iterations))
}

// RecordStrategyDispatch 记录一次策略调度
func (c *Collector) RecordStrategyDispatch(strategy string) {
	c.strategyDispatchTotal.WithLabelValues(strategy).Inc()
}

// RecordFix 记录一次图编辑（实现 fixer.Recorder），result 为 applied/noop/failed
func (c *Collector) RecordFix(kind, result string) {
	c.fixesTotal.WithLabelValues(kind, result).Inc()
}

// RecordCheckpointWrite 记录一次检查点写入
func (c *Collector) RecordCheckpointWrite(checkpointType string) {
	c.checkpointWritesTotal.WithLabelValues(checkpointType).Inc()
}

// RunStarted 活跃运行数加一
func (c *Collector) RunStarted() {
	c.activeRuns.Inc()
}

// RunFinished 活跃运行数减一
func (c *Collector) RunFinished() {
	c.activeRuns.Dec()
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCatalogCache 记录节点目录缓存结果（实现 catalog.CacheRecorder）
func (c *Collector) RecordCatalogCache(result string) {
	c.catalogCacheTotal.WithLabelValues(result).Inc()
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
