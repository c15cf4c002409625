package scheduler

import "errors"

// 预定义错误.
var (
	// ErrJobExists 任务已存在.
	ErrJobExists = errors.New("scheduler: job already exists")

	// ErrJobNotFound 任务未找到.
	ErrJobNotFound = errors.New("scheduler: job not found")

	// ErrJobNil 任务为空.
	ErrJobNil = errors.New("scheduler: job is nil")

	// ErrJobDestroyed 任务已销毁.
	ErrJobDestroyed = errors.New("scheduler: job is destroyed")

	// ErrManagerClosed 调度器已关闭.
	ErrManagerClosed = errors.New("scheduler: manager is closed")

	// ErrTriggerNil 触发器为空.
	ErrTriggerNil = errors.New("scheduler: trigger is nil")

	// ErrTriggerAlreadySet 任务已绑定触发器，不支持在运行中替换.
	ErrTriggerAlreadySet = errors.New("scheduler: job already has a trigger")

	// ErrInvalidSchedule 无效的调度表达式.
	ErrInvalidSchedule = errors.New("scheduler: invalid schedule expression")

	// ErrInvalidDelay 无效的延迟时间.
	ErrInvalidDelay = errors.New("scheduler: delay must be positive")

	// ErrTargetNotFound 依赖的目标任务不存在.
	ErrTargetNotFound = errors.New("scheduler: target job not found")

	// ErrInvalidConfig 配置无效.
	ErrInvalidConfig = errors.New("scheduler: invalid config")
)
