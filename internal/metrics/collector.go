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

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 执行指标
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	outputLines       *prometheus.CounterVec
	generatorItems    prometheus.Counter
	inflight          prometheus.Gauge
	sessionsActive    prometheus.Gauge

	// 锁指标
	sessionLockWait *prometheus.HistogramVec
	gilWait         prometheus.Histogram
	gilHold         prometheus.Histogram

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

var lockBuckets = []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5}

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
	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 执行指标
	c.executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of executions by mode and terminal status",
		},
		[]string{"mode", "status"},
	)
	c.executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Execution wall time in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)
	c.outputLines = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_lines_total",
			Help:      "Captured output lines relayed to callers",
		},
		[]string{"stream"},
	)
	c.generatorItems = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "generator_items_total",
		Help:      "Items produced by generator executions",
	})
	c.inflight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "executions_in_flight",
		Help:      "Executions currently running",
	})
	c.sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_registered",
		Help:      "Sessions currently registered",
	})

	// 锁指标
	c.sessionLockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_lock_wait_seconds",
			Help:      "Time spent waiting for a session lock",
			Buckets:   lockBuckets,
		},
		[]string{"outcome"},
	)
	c.gilWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gil_wait_seconds",
		Help:      "Time spent waiting for the global interpreter lock",
		Buckets:   lockBuckets,
	})
	c.gilHold = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "gil_hold_seconds",
		Help:      "Time the global interpreter lock was held per acquisition",
		Buckets:   lockBuckets,
	})

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

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// ⚙️ 执行指标记录
// =============================================================================

// RecordExecution 记录一次执行的终态与耗时
func (c *Collector) RecordExecution(mode, status string, duration time.Duration) {
	c.executionsTotal.WithLabelValues(mode, status).Inc()
	c.executionDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordSessionLockWait 记录会话锁等待，acquired=false 表示 busy
func (c *Collector) RecordSessionLockWait(duration time.Duration, acquired bool) {
	outcome := "acquired"
	if !acquired {
		outcome = "busy"
	}
	c.sessionLockWait.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordOutputLines 记录转发的输出行数
func (c *Collector) RecordOutputLines(stream string, n int) {
	c.outputLines.WithLabelValues(stream).Add(float64(n))
}

// RecordGeneratorItems 记录生成器产出条目数
func (c *Collector) RecordGeneratorItems(n int) {
	c.generatorItems.Add(float64(n))
}

// SetInflight 设置当前执行中的数量
func (c *Collector) SetInflight(n int) {
	c.inflight.Set(float64(n))
}

// SetSessions 设置已注册会话数
func (c *Collector) SetSessions(n int) {
	c.sessionsActive.Set(float64(n))
}

// ObserveGILWait 实现 interpreter.GILObserver
func (c *Collector) ObserveGILWait(d time.Duration) {
	c.gilWait.Observe(d.Seconds())
}

// ObserveGILHold 实现 interpreter.GILObserver
func (c *Collector) ObserveGILHold(d time.Duration) {
	c.gilHold.Observe(d.Seconds())
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
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
