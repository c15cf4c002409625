package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector Prometheus 指标收集器实现.
type PrometheusCollector struct {
	config *Config

	jobRunsTotal   *prometheus.CounterVec
	jobRunDuration *prometheus.HistogramVec
	submitsTotal   prometheus.Counter
	registeredJobs prometheus.Gauge

	registry *prometheus.Registry
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus 创建 Prometheus 指标收集器.
func NewPrometheus(cfg *Config) (*PrometheusCollector, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "jobkit"
	}
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	// 创建新的注册表，避免与默认注册表冲突
	registry := prometheus.NewRegistry()

	c := &PrometheusCollector{
		config:   cfg,
		registry: registry,
	}

	c.jobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "runs_total",
			Help:      "Total number of job runs",
		},
		[]string{"job_id", "outcome"},
	)

	c.jobRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "run_duration_seconds",
			Help:      "Job run duration in seconds",
			Buckets:   buckets,
		},
		[]string{"job_id"},
	)

	c.submitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "submits_total",
			Help:      "Total number of pool submissions",
		},
	)

	c.registeredJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "jobs",
			Help:      "Number of registered jobs",
		},
	)

	collectors := []prometheus.Collector{
		c.jobRunsTotal,
		c.jobRunDuration,
		c.submitsTotal,
		c.registeredJobs,
	}

	for _, collector := range collectors {
		if err := registry.Register(collector); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRegisterMetric, err)
		}
	}

	return c, nil
}

// RecordJobRun 记录任务执行指标.
func (c *PrometheusCollector) RecordJobRun(jobID, outcome string, duration time.Duration) {
	c.jobRunsTotal.WithLabelValues(jobID, outcome).Inc()
	c.jobRunDuration.WithLabelValues(jobID).Observe(duration.Seconds())
}

// RecordSubmit 记录工作池提交.
func (c *PrometheusCollector) RecordSubmit() {
	c.submitsTotal.Inc()
}

// SetRegisteredJobs 更新已注册任务数.
func (c *PrometheusCollector) SetRegisteredJobs(count int) {
	c.registeredJobs.Set(float64(count))
}

// Registry 返回底层注册表.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

// GetHandler 返回 metrics 的 HTTP 处理器.
func (c *PrometheusCollector) GetHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// GetPath 返回 metrics 路径.
func (c *PrometheusCollector) GetPath() string {
	if c.config.Path == "" {
		return "/metrics"
	}
	return c.config.Path
}
