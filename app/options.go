package app

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/Tsukikage7/jobkit/logger"
)

// CleanupFunc 在所有服务器（包括调度器）停止后执行的清理函数.
type CleanupFunc func(ctx context.Context) error

// Cleanup 清理任务，Priority 小的先执行.
type Cleanup struct {
	Name     string
	Fn       CleanupFunc
	Priority int
}

type options struct {
	name            string
	version         string
	logger          logger.Logger
	hooks           *Hooks
	gracefulTimeout time.Duration
	signals         []os.Signal
	cleanups        []Cleanup
	onStarted       []func()
}

func defaultOptions() *options {
	return &options{
		name:            "app",
		version:         "1.0.0",
		gracefulTimeout: 30 * time.Second,
	}
}

// Option 应用配置选项.
type Option func(*options)

// Name 设置应用名称，用于启动日志.
func Name(name string) Option {
	return func(o *options) { o.name = name }
}

// Version 设置应用版本.
func Version(version string) Option {
	return func(o *options) { o.version = version }
}

// Logger 设置日志记录器，必须提供.
func Logger(log logger.Logger) Option {
	return func(o *options) { o.logger = log }
}

// SetHooks 设置启动与停止钩子.
func SetHooks(hooks *Hooks) Option {
	return func(o *options) { o.hooks = hooks }
}

// GracefulTimeout 设置关闭时等待服务器停止的超时时间.
// 调度器作为服务器停止时，超时后仍在执行的任务不再等待.
//
// 默认: 30s.
func GracefulTimeout(d time.Duration) Option {
	return func(o *options) { o.gracefulTimeout = d }
}

// Signals 设置触发关闭的系统信号.
//
// 默认: SIGINT, SIGTERM.
func Signals(signals ...os.Signal) Option {
	return func(o *options) { o.signals = signals }
}

// OnStartedFunc 注册启动完成时执行的回调，与 Application.OnStarted 排在同一队列.
// 回调执行完毕后 Started 才返回 true.
func OnStartedFunc(fns ...func()) Option {
	return func(o *options) {
		for _, fn := range fns {
			if fn != nil {
				o.onStarted = append(o.onStarted, fn)
			}
		}
	}
}

// RegisterCleanup 注册清理任务.
func RegisterCleanup(name string, fn CleanupFunc, priority int) Option {
	return func(o *options) {
		o.cleanups = append(o.cleanups, Cleanup{
			Name:     name,
			Fn:       fn,
			Priority: priority,
		})
	}
}

// RegisterCloser 将 io.Closer 注册为清理任务，例如桥接事件用的 redis 客户端.
func RegisterCloser(name string, closer io.Closer, priority int) Option {
	return RegisterCleanup(name, func(context.Context) error {
		return closer.Close()
	}, priority)
}
