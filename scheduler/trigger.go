package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger 触发器，决定任务完成一次执行后何时再次执行.
//
// 每次执行结束时（无论成功失败）调用 ScheduleFollowingCalls，
// 通常通过 Manager.Delay 或 Manager.At 安排下一次调用.
type Trigger interface {
	ScheduleFollowingCalls(m *Manager, job *Job)
}

// Arming 需要自行安排首次执行的触发器.
// 未实现 Arming 的触发器在 Schedule 时立即执行一次.
type Arming interface {
	Arm(m *Manager, job *Job) error
}

// Once 只执行一次的触发器.
func Once() Trigger {
	return onceTrigger{}
}

type onceTrigger struct{}

func (onceTrigger) ScheduleFollowingCalls(*Manager, *Job) {}

func (onceTrigger) String() string { return "once" }

// Delayed 延迟 d 后执行一次的触发器.
func Delayed(d time.Duration) Trigger {
	return delayedTrigger{delay: d}
}

type delayedTrigger struct {
	delay time.Duration
}

func (t delayedTrigger) Arm(m *Manager, job *Job) error {
	if t.delay < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidDelay, t.delay)
	}
	return m.Delay(job, t.delay)
}

func (delayedTrigger) ScheduleFollowingCalls(*Manager, *Job) {}

func (t delayedTrigger) String() string { return "delayed(" + t.delay.String() + ")" }

// FixedDelay 固定延迟触发器.
// 立即执行一次，之后每次执行结束后间隔 d 再次执行，一次性任务不再重复.
func FixedDelay(d time.Duration) Trigger {
	return fixedDelayTrigger{delay: d}
}

type fixedDelayTrigger struct {
	delay time.Duration
}

func (t fixedDelayTrigger) Arm(m *Manager, job *Job) error {
	if t.delay <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidDelay, t.delay)
	}
	m.Now(job)
	return nil
}

func (t fixedDelayTrigger) ScheduleFollowingCalls(m *Manager, job *Job) {
	if job.OneTime() || job.Destroyed() {
		return
	}
	if err := m.Delay(job, t.delay); err != nil {
		m.jobLogger(job).Debugf("[Scheduler] 安排下一次执行失败: %v", err)
	}
}

func (t fixedDelayTrigger) String() string { return "fixed-delay(" + t.delay.String() + ")" }

// Cron Cron 表达式触发器.
//
// 表达式在 Schedule 时解析，是否包含秒字段由 WithSeconds 决定.
// 支持 @every、@daily 等描述符.
func Cron(expr string) Trigger {
	return &cronTrigger{expr: expr}
}

type cronTrigger struct {
	expr string

	mu       sync.Mutex
	schedule cron.Schedule
}

func (t *cronTrigger) Arm(m *Manager, job *Job) error {
	sched, err := m.parseCron(t.expr)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.schedule = sched
	t.mu.Unlock()
	return m.At(job, t.next(m))
}

func (t *cronTrigger) ScheduleFollowingCalls(m *Manager, job *Job) {
	if job.OneTime() || job.Destroyed() {
		return
	}
	t.mu.Lock()
	armed := t.schedule != nil
	t.mu.Unlock()
	if !armed {
		return
	}
	if err := m.At(job, t.next(m)); err != nil {
		m.jobLogger(job).Debugf("[Scheduler] 安排下一次执行失败: %v", err)
	}
}

func (t *cronTrigger) next(m *Manager) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.schedule.Next(m.now().In(m.opts.location))
}

func (t *cronTrigger) String() string { return "cron(" + t.expr + ")" }

// parseCron 解析 Cron 表达式.
func (m *Manager) parseCron(expr string) (cron.Schedule, error) {
	sched, err := m.parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}

// OnEvent 事件触发器，每次 Manager.Emit(topic) 时执行.
// 一次性任务在第一次触发后解除绑定.
func OnEvent(topic string) Trigger {
	return eventTrigger{topic: topic}
}

type eventTrigger struct {
	topic string
}

func (t eventTrigger) Arm(m *Manager, job *Job) error {
	if t.topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidSchedule)
	}
	return m.bindEvent(t.topic, job)
}

func (eventTrigger) ScheduleFollowingCalls(*Manager, *Job) {}

func (t eventTrigger) String() string { return "event(" + t.topic + ")" }

// 任务依赖关系.
const (
	relationAfter     = "after"
	relationBefore    = "before"
	relationAlongWith = "along-with"
)

// After 在目标任务自身执行完成后同步执行，即成为目标任务的后续子任务.
func After(targetID string) Trigger {
	return graphTrigger{target: targetID, relation: relationAfter}
}

// Before 在目标任务自身执行前同步执行，即成为目标任务的前置子任务.
func Before(targetID string) Trigger {
	return graphTrigger{target: targetID, relation: relationBefore}
}

// AlongWith 与目标任务一同异步执行，即成为目标任务的并行子任务.
func AlongWith(targetID string) Trigger {
	return graphTrigger{target: targetID, relation: relationAlongWith}
}

type graphTrigger struct {
	target   string
	relation string
}

// Arm 将任务挂到目标任务下，之后由目标任务驱动执行.
func (t graphTrigger) Arm(m *Manager, job *Job) error {
	target, ok := m.Get(t.target)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTargetNotFound, t.target)
	}
	if target == job {
		return fmt.Errorf("%w: job %s cannot depend on itself", ErrInvalidSchedule, job.id)
	}
	switch t.relation {
	case relationAfter:
		target.AddFollowingJob(job)
	case relationBefore:
		target.AddPrecedenceJob(job)
	default:
		target.AddParallelJob(job)
	}
	return nil
}

func (graphTrigger) ScheduleFollowingCalls(*Manager, *Job) {}

func (t graphTrigger) String() string { return t.relation + "(" + t.target + ")" }
