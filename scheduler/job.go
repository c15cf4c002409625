package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tsukikage7/jobkit/logger"
	"github.com/Tsukikage7/jobkit/progress"
)

// JobState 任务执行阶段.
type JobState int32

const (
	// JobStateIdle 空闲.
	JobStateIdle JobState = iota
	// JobStateParallel 正在派发并行子任务.
	JobStateParallel
	// JobStatePrecedence 正在执行前置子任务.
	JobStatePrecedence
	// JobStateSelf 正在执行自身.
	JobStateSelf
	// JobStateFollowing 正在执行后续子任务.
	JobStateFollowing
)

// String 返回状态字符串.
func (s JobState) String() string {
	switch s {
	case JobStateIdle:
		return "idle"
	case JobStateParallel:
		return "running-parallel"
	case JobStatePrecedence:
		return "running-precedence"
	case JobStateSelf:
		return "running-self"
	case JobStateFollowing:
		return "running-following"
	default:
		return "unknown"
	}
}

// 执行结果，用于日志和指标.
const (
	outcomeSuccess = "success"
	outcomeWarned  = "warned"
	outcomeFatal   = "fatal"
)

// Job 任务图中的一个节点.
//
// 一次 Run 依次执行: 派发并行子任务、同步执行前置子任务、执行自身、
// 请求触发器安排下一次调用、同步执行后续子任务.
// 同一个子任务可以同时挂在多个父任务下，父任务不独占子任务.
type Job struct {
	id string

	mu      sync.RWMutex
	manager *Manager
	worker  Worker
	trigger Trigger
	gauge   *progress.SimpleGauge

	// forwarded 已挂载进度推送监听器的计量器.
	forwarded map[*progress.SimpleGauge]struct{}

	oneTime   atomic.Bool
	executed  atomic.Bool
	destroyed atomic.Bool
	state     atomic.Int32
	runs      atomic.Int64
	// frozenAt 冻结时阻塞问题的清除代数加一，0 表示未冻结.
	frozenAt atomic.Uint64

	parallel   *childSet
	following  *childSet
	precedence *childSet
}

func newJob(id string, m *Manager, w Worker, oneTime bool) *Job {
	j := &Job{
		id:        id,
		manager:   m,
		worker:    w,
		forwarded: make(map[*progress.SimpleGauge]struct{}),
	}
	j.oneTime.Store(oneTime)
	j.parallel = newChildSet(j, "parallel jobs")
	j.following = newChildSet(j, "following jobs")
	j.precedence = newChildSet(j, "precedence jobs")
	j.SetProgressGauge(progress.New())
	return j
}

// ID 返回任务 ID.
func (j *Job) ID() string {
	return j.id
}

// Manager 返回所属调度器，销毁后返回 nil.
func (j *Job) Manager() *Manager {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.manager
}

// Worker 返回任务执行体.
func (j *Job) Worker() Worker {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.worker
}

// Trigger 返回任务触发器.
func (j *Job) Trigger() Trigger {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.trigger
}

// SetTrigger 绑定触发器.
// 已绑定的任务不支持替换触发器.
func (j *Job) SetTrigger(t Trigger) error {
	if t == nil {
		return ErrTriggerNil
	}
	if j.Destroyed() {
		return ErrJobDestroyed
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.trigger != nil {
		return ErrTriggerAlreadySet
	}
	j.trigger = t
	return nil
}

// resetTrigger 在首次调度失败后解绑触发器，以便重新调度.
func (j *Job) resetTrigger() {
	j.mu.Lock()
	j.trigger = nil
	j.mu.Unlock()
}

// OneTime 是否为一次性任务.
func (j *Job) OneTime() bool {
	return j.oneTime.Load()
}

func (j *Job) setOneTime() *Job {
	j.oneTime.Store(true)
	return j
}

// Executed 是否已完成过一次执行.
func (j *Job) Executed() bool {
	return j.executed.Load()
}

// Done 一次性任务执行完成后即视为结束，即使尚未从注册表移除.
func (j *Job) Done() bool {
	return j.Executed() && j.OneTime()
}

// Destroyed 是否已销毁.
func (j *Job) Destroyed() bool {
	return j.destroyed.Load()
}

// State 返回当前执行阶段.
func (j *Job) State() JobState {
	return JobState(j.state.Load())
}

// Frozen 任务是否因开发模式下的致命故障被冻结.
// 冻结持续到阻塞问题被清除，期间 Run 直接返回.
func (j *Job) Frozen() bool {
	at := j.frozenAt.Load()
	if at == 0 {
		return false
	}
	m := j.Manager()
	if m == nil {
		return false
	}
	return m.blockEpoch() == at-1
}

// Runs 返回 Run 被调用的次数.
func (j *Job) Runs() int64 {
	return j.runs.Load()
}

// Progress 返回任务的进度计量器.
func (j *Job) Progress() *progress.SimpleGauge {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.gauge
}

// ProgressPercent 返回进度百分比，无界进度返回 -1.
func (j *Job) ProgressPercent() int {
	return j.Progress().Percent()
}

// SetProgressGauge 替换进度计量器.
// 推送监听器转移到新的计量器上，被替换的计量器不再推送.
func (j *Job) SetProgressGauge(g progress.Gauge) {
	sg := progress.Wrap(g)
	j.mu.Lock()
	j.gauge = sg
	_, attached := j.forwarded[sg]
	if !attached {
		j.forwarded[sg] = struct{}{}
	}
	j.mu.Unlock()
	if !attached {
		sg.AddListener(j.forwarder(sg))
	}
}

// forwarder 将 src 的进度变化推送给订阅了该任务的外部观察者.
// src 不再是任务当前的计量器时忽略.
func (j *Job) forwarder(src *progress.SimpleGauge) progress.Listener {
	return progress.ListenerFunc(func(s progress.Snapshot) {
		if j.Progress() != src {
			return
		}
		m := j.Manager()
		if m == nil || m.opts.publisher == nil {
			return
		}
		payload := map[string]any{"job_progress": s}
		if err := m.opts.publisher.PublishTagged(ProgressTag(j.id), payload); err != nil {
			m.jobLogger(j).Debugf("[Scheduler] 推送任务进度失败: %v", err)
		}
	})
}

// ProgressTag 返回任务进度推送使用的标签.
func ProgressTag(jobID string) string {
	return "job_progress:" + jobID
}

// AddParallelJob 添加并行子任务，父任务执行时异步派发.
func (j *Job) AddParallelJob(child *Job) *Job {
	return j.parallel.add(child)
}

// AddPrecedenceJob 添加前置子任务，在父任务自身执行前同步执行.
func (j *Job) AddPrecedenceJob(child *Job) *Job {
	return j.precedence.add(child)
}

// AddFollowingJob 添加后续子任务，在父任务自身执行后同步执行.
func (j *Job) AddFollowingJob(child *Job) *Job {
	return j.following.add(child)
}

// ParallelJobs 返回并行子任务快照.
func (j *Job) ParallelJobs() []*Job { return j.parallel.list() }

// PrecedenceJobs 返回前置子任务快照.
func (j *Job) PrecedenceJobs() []*Job { return j.precedence.list() }

// FollowingJobs 返回后续子任务快照.
func (j *Job) FollowingJobs() []*Job { return j.following.list() }

// Cancel 取消任务的后续调度并销毁任务.
// 未注册到调度器的任务（例如子任务）同样会被销毁.
func (j *Job) Cancel() error {
	m := j.Manager()
	if m == nil {
		return ErrJobDestroyed
	}
	m.cancelJob(j)
	return nil
}

// Destroy 释放任务持有的资源，销毁后的任务不会再执行.
func (j *Job) Destroy() {
	if !j.destroyed.CompareAndSwap(false, true) {
		return
	}
	j.mu.Lock()
	j.worker = nil
	j.manager = nil
	j.mu.Unlock()
	j.parallel.clear()
	j.following.clear()
	j.precedence.clear()
}

// Run 执行任务.
//
// 可恢复的错误只记录告警，不会返回.
// 致命故障在开发模式下记录为阻塞问题并冻结该任务，返回 nil；
// 生产模式下关闭宿主应用并销毁任务，直接调用方会收到错误链中
// 被判定为致命的那一环，在工作池中执行时只记录日志.
func (j *Job) Run(ctx context.Context) error {
	m := j.Manager()
	if m == nil || j.Destroyed() {
		return nil
	}
	if j.Frozen() {
		m.jobLogger(j).Debugf("[Scheduler] 任务 %s 已冻结，等待阻塞问题清除", j.id)
		if m.opts.rearmAfterFatal {
			j.scheduleNextInvocation(m)
		}
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logger.ContextWithJobID(ctx, j.id)
	ctx, span := m.tracer.Start(ctx, "scheduler.job.run",
		trace.WithAttributes(
			attribute.String("job.id", j.id),
			attribute.Bool("job.one_time", j.OneTime()),
		),
	)
	defer span.End()
	defer j.state.Store(int32(JobStateIdle))
	j.runs.Add(1)
	log := m.log.WithContext(ctx)

	j.state.Store(int32(JobStateParallel))
	_ = j.parallel.runAll(ctx, true)

	j.state.Store(int32(JobStatePrecedence))
	if err := j.precedence.runAll(ctx, false); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "precedence job failed")
		return err
	}

	j.state.Store(int32(JobStateSelf))
	start := time.Now()
	err := j.doJob(ctx, m)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		cause, fatal := m.faults.Classify(err)
		if fatal {
			span.SetStatus(codes.Error, "fatal fault")
			m.opts.hooks.runFatalHooks(ctx, &JobContext{Job: j, StartTime: start, Error: err, Duration: duration, Fatal: true})
			m.recordRun(j, outcomeFatal, duration)
			if m.Dev() {
				log.With(logger.Err(err)).Error("[Scheduler] 任务出现致命故障，已记录为阻塞问题")
				j.frozenAt.Store(m.freeze(err) + 1)
				j.markExecuted(m)
				return nil
			}
			m.lifecycle.Shutdown()
			j.Destroy()
			if !onPool(ctx) {
				return cause
			}
			log.With(logger.Err(cause)).Errorf("[Scheduler] 执行任务 %s 出现致命故障", j.id)
			return nil
		}
		m.opts.hooks.runErrorHooks(ctx, &JobContext{Job: j, StartTime: start, Error: err, Duration: duration})
		m.recordRun(j, outcomeWarned, duration)
		log.With(logger.Err(err)).Warnf("[Scheduler] 执行任务 %s 出错", j.id)
	} else {
		m.recordRun(j, outcomeSuccess, duration)
	}
	j.markExecuted(m)

	j.state.Store(int32(JobStateFollowing))
	if err := j.following.runAll(ctx, false); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "following job failed")
		return err
	}
	return nil
}

// doJob 执行任务自身，无论成功与否都会安排下一次调用并执行后置钩子.
func (j *Job) doJob(ctx context.Context, m *Manager) (err error) {
	jc := &JobContext{Job: j, StartTime: time.Now()}
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
		jc.Duration = time.Since(jc.StartTime)
		jc.Error = err
		jc.Fatal = err != nil && m.faults.IsFatal(err)
		if !jc.Fatal || m.opts.rearmAfterFatal {
			j.scheduleNextInvocation(m)
		}
		m.opts.hooks.runAfterHooks(ctx, jc)
	}()

	if m.Dev() && m.Started() && m.opts.updateCheck != nil {
		m.opts.updateCheck(ctx)
	}
	if err := m.opts.hooks.runBeforeHooks(ctx, jc); err != nil {
		return err
	}
	w := j.Worker()
	if w == nil {
		return nil
	}
	return w.Work(ctx, j.Progress())
}

func (j *Job) scheduleNextInvocation(m *Manager) {
	if t := j.Trigger(); t != nil {
		t.ScheduleFollowingCalls(m, j)
	}
}

// markExecuted 标记已执行，一次性任务从注册表移除.
// 宿主尚未启动完成时，移除推迟到启动完成之后.
func (j *Job) markExecuted(m *Manager) {
	if j.Destroyed() {
		return
	}
	j.executed.Store(true)
	if !j.OneTime() {
		return
	}
	if m.Started() {
		m.RemoveJob(j)
		return
	}
	m.lifecycle.OnStarted(func() {
		m.RemoveJob(j)
	})
}

func (j *Job) brief() string {
	trigger := "<nil>"
	if t := j.Trigger(); t != nil {
		trigger = fmt.Sprint(t)
	}
	return fmt.Sprintf("job[%s]\none time job:%v\ntrigger:%s", j.id, j.OneTime(), trigger)
}

// String 返回任务及其子任务的描述.
func (j *Job) String() string {
	var sb strings.Builder
	sb.WriteString(j.brief())
	for _, set := range []*childSet{j.parallel, j.following, j.precedence} {
		jobs := set.list()
		if len(jobs) == 0 {
			continue
		}
		sb.WriteString("\n")
		sb.WriteString(set.label)
		for _, child := range jobs {
			sb.WriteString("\n\t")
			sb.WriteString(child.brief())
		}
	}
	return sb.String()
}
