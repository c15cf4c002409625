// Package tracing 提供任务调度使用的 OpenTelemetry 链路追踪初始化.
//
// 示例:
//
//	tp, err := tracing.NewTracer(cfg, "report-service", "1.0.0")
//	if err != nil {
//	    return err
//	}
//	defer tp.Shutdown(context.Background())
//
//	m := scheduler.MustNew(scheduler.WithTracerProvider(tp))
package tracing

import "errors"

// 预定义错误.
var (
	// ErrNilConfig 配置为空.
	ErrNilConfig = errors.New("tracing: config is nil")

	// ErrEmptyServiceName 服务名为空.
	ErrEmptyServiceName = errors.New("tracing: service name is empty")

	// ErrEmptyEndpoint OTLP 地址为空.
	ErrEmptyEndpoint = errors.New("tracing: otlp endpoint is empty")

	// ErrCreateExporter 创建导出器失败.
	ErrCreateExporter = errors.New("tracing: create exporter failed")

	// ErrCreateResource 创建资源失败.
	ErrCreateResource = errors.New("tracing: create resource failed")
)

// Config 链路追踪配置.
type Config struct {
	// Enabled 是否启用，未启用时返回不导出的提供者
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	// SamplingRate 采样率，取值 (0, 1]，默认 1
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate" mapstructure:"sampling_rate"`
	// Endpoint OTLP HTTP 地址，例如 localhost:4318
	Endpoint string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	// Headers 导出请求附带的请求头
	Headers map[string]string `json:"headers" yaml:"headers" mapstructure:"headers"`
	// Global 是否设置为 otel 全局提供者
	Global bool `json:"global" yaml:"global" mapstructure:"global"`
}
