package scheduler

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/Tsukikage7/jobkit/logger"
	"github.com/Tsukikage7/jobkit/metrics"
)

// 运行模式.
const (
	// ModeDev 开发模式，致命故障只阻塞出错的任务.
	ModeDev = "dev"
	// ModeProd 生产模式，致命故障关闭宿主应用.
	ModeProd = "prod"
)

// Option 调度器配置选项.
type Option func(*options)

// ProgressPublisher 进度推送通道，例如按标签推送的 WebSocket 连接.
type ProgressPublisher interface {
	PublishTagged(tag string, payload any) error
}

// options 调度器内部配置.
type options struct {
	logger          logger.Logger
	hooks           *Hooks
	mode            string
	poolSize        int64
	fatalKinds      []FaultKind
	fatalErrors     []error
	rearmAfterFatal bool
	lifecycle       Lifecycle
	updateCheck     func(ctx context.Context)
	metrics         metrics.Collector
	tracerProvider  trace.TracerProvider
	publisher       ProgressPublisher
	withSeconds     bool
	location        *time.Location
	shutdownTimeout time.Duration
	now             func() time.Time
}

// defaultOptions 返回默认配置.
func defaultOptions() *options {
	return &options{
		mode:        ModeProd,
		poolSize:    16,
		fatalKinds:  append([]FaultKind(nil), DefaultFatalKinds...),
		withSeconds: true,
		location:    time.Local,
		now:         time.Now,
	}
}

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) Option {
	return func(o *options) {
		o.logger = log
	}
}

// WithHooks 设置全局钩子，对所有任务生效.
func WithHooks(hooks *Hooks) Option {
	return func(o *options) {
		o.hooks = hooks
	}
}

// WithMode 设置运行模式.
//
// 默认: ModeProd.
func WithMode(mode string) Option {
	return func(o *options) {
		o.mode = mode
	}
}

// WithPoolSize 设置工作池最大并发数.
//
// 默认: 16.
func WithPoolSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.poolSize = int64(n)
		}
	}
}

// WithFatalKinds 追加致命故障类型.
func WithFatalKinds(kinds ...FaultKind) Option {
	return func(o *options) {
		o.fatalKinds = append(o.fatalKinds, kinds...)
	}
}

// WithFatalErrors 追加致命的哨兵错误，按错误链逐环比较.
func WithFatalErrors(errs ...error) Option {
	return func(o *options) {
		o.fatalErrors = append(o.fatalErrors, errs...)
	}
}

// WithRearmAfterFatal 设置致命故障后是否仍请求触发器安排下一次调用.
//
// 默认: 不安排.
func WithRearmAfterFatal(enabled bool) Option {
	return func(o *options) {
		o.rearmAfterFatal = enabled
	}
}

// WithLifecycle 设置宿主应用生命周期.
//
// 默认宿主视为已启动，关闭时只停止调度器本身.
func WithLifecycle(l Lifecycle) Option {
	return func(o *options) {
		o.lifecycle = l
	}
}

// WithUpdateCheck 设置开发模式下每次执行任务前调用的更新检查.
func WithUpdateCheck(fn func(ctx context.Context)) Option {
	return func(o *options) {
		o.updateCheck = fn
	}
}

// WithMetrics 设置指标收集器.
func WithMetrics(c metrics.Collector) Option {
	return func(o *options) {
		o.metrics = c
	}
}

// WithTracerProvider 设置链路追踪提供者.
//
// 默认: otel 全局提供者.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithProgressPublisher 设置任务进度推送通道.
func WithProgressPublisher(p ProgressPublisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

// WithSeconds 设置 Cron 表达式是否包含秒字段.
//
// 启用后格式为: 秒 分 时 日 月 周
// 默认: 启用.
func WithSeconds(enabled bool) Option {
	return func(o *options) {
		o.withSeconds = enabled
	}
}

// WithLocation 设置 Cron 触发器使用的时区.
//
// 默认: time.Local
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.location = loc
		}
	}
}

// WithShutdownTimeout 设置作为 app.Server 停止时等待任务完成的超时时间.
//
// 默认: 不限制，由调用方的 ctx 决定.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		o.shutdownTimeout = d
	}
}

// withClock 替换时钟，仅用于测试.
func withClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}
