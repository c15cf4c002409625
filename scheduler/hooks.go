package scheduler

import (
	"context"
	"time"
)

// JobContext 任务执行上下文.
type JobContext struct {
	// Job 当前任务.
	Job *Job

	// StartTime 开始执行时间.
	StartTime time.Time

	// Error 执行错误（仅在 AfterJob/OnError/OnFatal 中有值）.
	Error error

	// Duration 执行耗时（仅在 AfterJob/OnError/OnFatal 中有值）.
	Duration time.Duration

	// Fatal 错误是否被判定为致命故障.
	Fatal bool
}

// BeforeJobHook 任务执行前回调.
// 返回的 error 按任务自身的错误处理.
type BeforeJobHook func(ctx context.Context, jc *JobContext) error

// AfterJobHook 任务执行后回调，无论成功失败都会调用.
type AfterJobHook func(ctx context.Context, jc *JobContext)

// OnErrorHook 可恢复错误回调.
type OnErrorHook func(ctx context.Context, jc *JobContext)

// OnFatalHook 致命故障回调.
type OnFatalHook func(ctx context.Context, jc *JobContext)

// Hooks 任务钩子集合.
type Hooks struct {
	BeforeJob []BeforeJobHook
	AfterJob  []AfterJobHook
	OnError   []OnErrorHook
	OnFatal   []OnFatalHook
}

func (h *Hooks) runBeforeHooks(ctx context.Context, jc *JobContext) error {
	if h == nil {
		return nil
	}
	for _, hook := range h.BeforeJob {
		if err := hook(ctx, jc); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hooks) runAfterHooks(ctx context.Context, jc *JobContext) {
	if h == nil {
		return
	}
	for _, hook := range h.AfterJob {
		hook(ctx, jc)
	}
}

func (h *Hooks) runErrorHooks(ctx context.Context, jc *JobContext) {
	if h == nil {
		return
	}
	for _, hook := range h.OnError {
		hook(ctx, jc)
	}
}

func (h *Hooks) runFatalHooks(ctx context.Context, jc *JobContext) {
	if h == nil {
		return
	}
	for _, hook := range h.OnFatal {
		hook(ctx, jc)
	}
}

// HooksBuilder 钩子构建器.
type HooksBuilder struct {
	hooks *Hooks
}

// NewHooks 创建钩子构建器.
func NewHooks() *HooksBuilder {
	return &HooksBuilder{hooks: &Hooks{}}
}

// BeforeJob 添加前置钩子.
func (b *HooksBuilder) BeforeJob(hook BeforeJobHook) *HooksBuilder {
	b.hooks.BeforeJob = append(b.hooks.BeforeJob, hook)
	return b
}

// AfterJob 添加后置钩子.
func (b *HooksBuilder) AfterJob(hook AfterJobHook) *HooksBuilder {
	b.hooks.AfterJob = append(b.hooks.AfterJob, hook)
	return b
}

// OnError 添加错误钩子.
func (b *HooksBuilder) OnError(hook OnErrorHook) *HooksBuilder {
	b.hooks.OnError = append(b.hooks.OnError, hook)
	return b
}

// OnFatal 添加致命故障钩子.
func (b *HooksBuilder) OnFatal(hook OnFatalHook) *HooksBuilder {
	b.hooks.OnFatal = append(b.hooks.OnFatal, hook)
	return b
}

// Build 构建钩子.
func (b *HooksBuilder) Build() *Hooks {
	return b.hooks
}
