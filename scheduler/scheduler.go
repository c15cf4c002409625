// Package scheduler 提供任务图与基于触发器的任务调度.
//
// 特性：
//   - 任务可挂载前置、并行、后续三类子任务，构成执行图
//   - 一次性任务执行后自动从注册表移除，子任务继承一次性标记
//   - 触发器决定任务完成后何时再次执行：一次性、固定延迟、Cron、事件、任务依赖
//   - 致命故障与可恢复错误分级处理：开发模式记录阻塞问题，生产模式关闭宿主应用
//   - 进度计量与推送、Prometheus 指标、OpenTelemetry 链路追踪
//
// 示例：
//
//	m := scheduler.MustNew(
//	    scheduler.WithLogger(log),
//	    scheduler.WithMode(scheduler.ModeProd),
//	)
//
//	report := m.Recurring("report", scheduler.WorkerFunc(buildReport))
//	report.AddPrecedenceJob(m.Recurring("fetch", scheduler.WorkerFunc(fetch)))
//	report.AddFollowingJob(m.Recurring("notify", scheduler.WorkerFunc(notify)))
//
//	_ = m.Schedule(report, scheduler.Cron("0 0 2 * * *"))
//	defer m.Shutdown(context.Background())
package scheduler

// Lifecycle 宿主应用生命周期.
type Lifecycle interface {
	// Started 宿主是否已完成启动.
	Started() bool
	// OnStarted 注册启动完成后执行一次的回调，已启动时立即执行.
	OnStarted(fn func())
	// Shutdown 关闭宿主应用，不能阻塞等待正在执行的任务.
	Shutdown()
}

// standalone 没有宿主应用时的默认生命周期.
type standalone struct {
	m *Manager
}

func (s standalone) Started() bool { return true }

func (s standalone) OnStarted(fn func()) { fn() }

func (s standalone) Shutdown() { s.m.halt() }

// New 创建调度器.
func New(opts ...Option) (*Manager, error) {
	return newManager(opts...)
}

// MustNew 创建调度器，失败时 panic.
func MustNew(opts ...Option) *Manager {
	m, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return m
}
