// Package metrics 提供任务调度的 Prometheus 指标收集功能.
package metrics

import (
	"net/http"
	"time"
)

// Collector 任务指标收集器接口.
type Collector interface {
	// RecordJobRun 记录一次任务执行，outcome 为 success、warned 或 fatal.
	RecordJobRun(jobID, outcome string, duration time.Duration)

	// RecordSubmit 记录一次工作池提交.
	RecordSubmit()

	// SetRegisteredJobs 更新已注册任务数.
	SetRegisteredJobs(count int)
}

// NewMetrics 创建指标收集器.
func NewMetrics(cfg *Config) (*PrometheusCollector, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}

	return NewPrometheus(cfg)
}

// MustNewMetrics 创建指标收集器，失败时 panic.
func MustNewMetrics(cfg *Config) *PrometheusCollector {
	c, err := NewMetrics(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

// Nop 不记录任何指标的收集器.
type Nop struct{}

func (Nop) RecordJobRun(string, string, time.Duration) {}

func (Nop) RecordSubmit() {}

func (Nop) SetRegisteredJobs(int) {}

var _ Collector = Nop{}

// handlerProvider 暴露指标 HTTP 处理器的收集器.
type handlerProvider interface {
	GetHandler() http.Handler
	GetPath() string
}

// Mount 将收集器的指标处理器挂载到 mux 上.
// 收集器不提供处理器时返回 false.
func Mount(mux *http.ServeMux, c Collector) bool {
	hp, ok := c.(handlerProvider)
	if !ok {
		return false
	}
	mux.Handle(hp.GetPath(), hp.GetHandler())
	return true
}
