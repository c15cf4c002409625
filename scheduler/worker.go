package scheduler

import (
	"context"

	"github.com/Tsukikage7/jobkit/progress"
)

// Worker 任务的执行体.
//
// gauge 是任务自身持有的进度计量器，不关心进度的实现可以忽略它.
type Worker interface {
	Work(ctx context.Context, gauge progress.Gauge) error
}

// WorkerFunc 不关心进度的执行函数.
type WorkerFunc func(ctx context.Context) error

// Work 实现 Worker.
func (f WorkerFunc) Work(ctx context.Context, _ progress.Gauge) error {
	return f(ctx)
}

// ProgressWorkerFunc 会汇报进度的执行函数.
type ProgressWorkerFunc func(ctx context.Context, gauge progress.Gauge) error

// Work 实现 Worker.
func (f ProgressWorkerFunc) Work(ctx context.Context, gauge progress.Gauge) error {
	return f(ctx, gauge)
}

// RunnableFunc 无参数无返回值的执行函数.
type RunnableFunc func()

// Work 实现 Worker.
func (f RunnableFunc) Work(context.Context, progress.Gauge) error {
	f()
	return nil
}
