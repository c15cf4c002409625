// Package logger 提供调度器使用的结构化日志.
//
// 任务执行时 context 中携带任务 ID 和链路追踪信息，
// 通过 WithContext 得到的 logger 会自动附带 job_id 与 traceId 字段.
package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// 日志级别.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// 输出格式.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

type contextKey string

const (
	// TraceIDKey 显式注入的 traceId，优先于 context 中的 span.
	TraceIDKey contextKey = "logger:traceId"
	// JobIDKey 当前执行的任务 ID.
	JobIDKey contextKey = "logger:jobId"
)

// Field 日志字段.
type Field struct {
	Key   string
	Value any
}

// Logger 日志记录器.
//
// Debugf 等格式化方法用于带 [Scheduler] 前缀的运行日志，
// With 附加的字段用于检索.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)

	With(fields ...Field) Logger
	WithContext(ctx context.Context) Logger

	Sync() error
	Close() error
}

// ContextWithTraceID 注入 traceId.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// ContextWithJobID 注入当前执行的任务 ID，嵌套执行时内层任务覆盖外层.
func ContextWithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// JobIDFromContext 返回 context 中的任务 ID.
func JobIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(JobIDKey).(string)
	return id
}

// TraceIDFromContext 返回 context 中的 traceId.
// 没有显式注入时取 context 中 span 的 TraceID.
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(TraceIDKey).(string); ok && id != "" {
		return id
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// NewLogger 按配置创建 logger.
func NewLogger(config *Config) (Logger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.ApplyDefaults()
	return newZapLogger(config)
}

// MustNewLogger 同 NewLogger，失败时 panic.
func MustNewLogger(config *Config) Logger {
	l, err := NewLogger(config)
	if err != nil {
		panic(err)
	}
	return l
}
