package logger

import (
	"context"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// zapLogger zap 日志实现.
type zapLogger struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
}

// newZapLogger 创建 zap logger.
func newZapLogger(config *Config) (Logger, error) {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     datetimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if strings.ToLower(config.Format) == FormatConsole {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), parseLevel(config.Level))

	var options []zap.Option
	if config.EnableCaller {
		options = append(options, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	if config.EnableStacktrace {
		options = append(options, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	zapLog := zap.New(core, options...)
	if config.Name != "" {
		zapLog = zapLog.Named(config.Name)
	}
	return NewFromZap(zapLog), nil
}

// NewFromZap 包装已有的 *zap.Logger.
//
// 测试中常配合 zaptest/observer 使用以断言日志输出.
func NewFromZap(l *zap.Logger) Logger {
	return &zapLogger{logger: l, sugar: l.Sugar()}
}

// NewNop 返回丢弃所有输出的 logger.
func NewNop() Logger {
	return NewFromZap(zap.NewNop())
}

func datetimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn, "warning":
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (z *zapLogger) Debug(args ...any)                 { z.sugar.Debug(args...) }
func (z *zapLogger) Debugf(format string, args ...any) { z.sugar.Debugf(format, args...) }
func (z *zapLogger) Info(args ...any)                  { z.sugar.Info(args...) }
func (z *zapLogger) Infof(format string, args ...any)  { z.sugar.Infof(format, args...) }
func (z *zapLogger) Warn(args ...any)                  { z.sugar.Warn(args...) }
func (z *zapLogger) Warnf(format string, args ...any)  { z.sugar.Warnf(format, args...) }
func (z *zapLogger) Error(args ...any)                 { z.sugar.Error(args...) }
func (z *zapLogger) Errorf(format string, args ...any) { z.sugar.Errorf(format, args...) }

// With 返回带有附加字段的 logger.
func (z *zapLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return z
	}
	zapFields := make([]zap.Field, len(fields))
	for i, f := range fields {
		zapFields[i] = toZapField(f)
	}
	return NewFromZap(z.logger.With(zapFields...))
}

// toZapField 将 Field 转换为 zap.Field.
func toZapField(f Field) zap.Field {
	switch v := f.Value.(type) {
	case string:
		return zap.String(f.Key, v)
	case int:
		return zap.Int(f.Key, v)
	case int64:
		return zap.Int64(f.Key, v)
	case float64:
		return zap.Float64(f.Key, v)
	case bool:
		return zap.Bool(f.Key, v)
	case time.Time:
		return zap.Time(f.Key, v)
	case time.Duration:
		return zap.Duration(f.Key, v)
	case error:
		return zap.NamedError(f.Key, v)
	default:
		return zap.Any(f.Key, v)
	}
}

// WithContext 返回带有 context 中 traceId 和 jobId 的 logger.
// context 中没有相关信息时返回当前 logger.
func (z *zapLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return z
	}

	var fields []Field
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		fields = append(fields, Field{Key: "traceId", Value: traceID})
	}
	if jobID := JobIDFromContext(ctx); jobID != "" {
		fields = append(fields, JobID(jobID))
	}
	return z.With(fields...)
}

// Sync 同步日志缓冲区.
func (z *zapLogger) Sync() error {
	return z.logger.Sync()
}

// Close 关闭 logger.
func (z *zapLogger) Close() error {
	// stdout 的 sync 错误可以忽略: https://github.com/uber-go/zap/issues/328
	_ = z.logger.Sync()
	return nil
}

// String 创建字符串字段.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int 创建整数字段.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Bool 创建布尔字段.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration 创建持续时间字段.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Err 创建错误字段.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// JobID 创建任务 ID 字段.
func JobID(id string) Field {
	return Field{Key: "job_id", Value: id}
}

// Any 创建任意类型字段.
func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}
