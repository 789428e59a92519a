// Package metrics 提供服务的 Prometheus 指标集合与 /metrics 处理器
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "creditrisk"

// Metrics 指标集合
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求计数，按 method/route/status
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时
	HTTPRequestDuration *prometheus.HistogramVec

	// 模拟次数，按 kind(entity/portfolio) 与 outcome(ok/error)
	SimulationsTotal *prometheus.CounterVec
	// 模拟耗时
	SimulationDuration *prometheus.HistogramVec
	// 已执行路径数
	PathsTotal prometheus.Counter
	// 相关矩阵修复次数
	CorrelationRepairs prometheus.Counter
	// 降级输入，按类型
	DegradedInputs *prometheus.CounterVec
	// 摊还计划与久期等同步计算
	CalculationsTotal *prometheus.CounterVec

	// 市场数据缓存命中/未命中
	CacheRequests *prometheus.CounterVec
	// 事件发布结果
	EventsPublished *prometheus.CounterVec
}

// New 创建指标实例并注册到独立的 registry
func New(serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			ConstLabels: labels,
			Name:        "http_requests_total",
			Help:        "Total HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			ConstLabels: labels,
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request duration in seconds",
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "route"}),
		SimulationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			ConstLabels: labels,
			Name:        "simulations_total",
			Help:        "Total Monte Carlo simulation runs",
		}, []string{"kind", "outcome"}),
		SimulationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			ConstLabels: labels,
			Name:        "simulation_duration_seconds",
			Help:        "Monte Carlo simulation duration in seconds",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
		PathsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			ConstLabels: labels,
			Name:        "simulation_paths_total",
			Help:        "Total simulated paths",
		}),
		CorrelationRepairs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			ConstLabels: labels,
			Name:        "correlation_repairs_total",
			Help:        "Correlation matrices repaired to nearest PSD",
		}),
		DegradedInputs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			ConstLabels: labels,
			Name:        "degraded_inputs_total",
			Help:        "Missing market data replaced by defaults",
		}, []string{"kind"}),
		CalculationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			ConstLabels: labels,
			Name:        "calculations_total",
			Help:        "Schedule, fractional and duration calculations",
		}, []string{"kind", "outcome"}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			ConstLabels: labels,
			Name:        "market_data_cache_requests_total",
			Help:        "Market data cache lookups",
		}, []string{"result"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			ConstLabels: labels,
			Name:        "events_published_total",
			Help:        "Domain events published",
		}, []string{"topic", "outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SimulationsTotal,
		m.SimulationDuration,
		m.PathsTotal,
		m.CorrelationRepairs,
		m.DegradedInputs,
		m.CalculationsTotal,
		m.CacheRequests,
		m.EventsPublished,
	)
	return m
}

// Registry 底层 registry，供测试读取
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordSimulation 记录一次模拟
func (m *Metrics) RecordSimulation(kind string, paths int, repaired bool, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.SimulationsTotal.WithLabelValues(kind, outcome).Inc()
	m.SimulationDuration.WithLabelValues(kind).Observe(d.Seconds())
	if err != nil {
		return
	}
	m.PathsTotal.Add(float64(paths))
	if repaired {
		m.CorrelationRepairs.Inc()
	}
}

// RecordDegraded 记录降级输入
func (m *Metrics) RecordDegraded(kind string) {
	m.DegradedInputs.WithLabelValues(kind).Inc()
}

// RecordCalculation 记录同步计算
func (m *Metrics) RecordCalculation(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.CalculationsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordCache 记录缓存命中
func (m *Metrics) RecordCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

// RecordEvent 记录事件发布
func (m *Metrics) RecordEvent(topic string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.EventsPublished.WithLabelValues(topic, outcome).Inc()
}
