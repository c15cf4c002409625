package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/Tsukikage7/jobkit/logger"
)

const tracerName = "github.com/Tsukikage7/jobkit/scheduler"

// Manager 任务调度宿主.
//
// 持有任务注册表，通过有界工作池提供立即异步执行，
// 支持延迟执行、事件触发、按 ID 取消.
type Manager struct {
	opts      *options
	log       logger.Logger
	faults    *FaultPolicy
	lifecycle Lifecycle
	tracer    trace.Tracer
	parser    cron.Parser

	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	wg     sync.WaitGroup

	mu     sync.RWMutex
	jobs   map[string]*Job
	timers map[string]*time.Timer
	events map[string]map[string]*Job
	closed bool

	blockMu    sync.RWMutex
	blockIssue error
	// blockClears 阻塞问题被清除的次数，用于判断冻结的任务是否恢复.
	blockClears uint64
}

func newManager(opts ...Option) (*Manager, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	switch o.mode {
	case ModeDev, ModeProd:
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, o.mode)
	}

	if o.logger == nil {
		o.logger = logger.NewNop()
	}
	tp := o.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	fields := cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor
	if o.withSeconds {
		fields |= cron.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		opts:   o,
		log:    o.logger,
		faults: NewFaultPolicy(o.fatalKinds, o.fatalErrors),
		tracer: tp.Tracer(tracerName),
		parser: cron.NewParser(fields),
		ctx:    ctx,
		cancel: cancel,
		sem:    semaphore.NewWeighted(o.poolSize),
		jobs:   make(map[string]*Job),
		timers: make(map[string]*time.Timer),
		events: make(map[string]map[string]*Job),
	}
	m.lifecycle = o.lifecycle
	if m.lifecycle == nil {
		m.lifecycle = standalone{m: m}
	}
	return m, nil
}

// NewJob 创建任务，id 为空时自动生成.
// 创建的任务尚未注册.
func (m *Manager) NewJob(id string, w Worker, oneTime bool) *Job {
	if id == "" {
		id = uuid.NewString()
	}
	return newJob(id, m, w, oneTime)
}

// OneTime 创建一次性任务.
func (m *Manager) OneTime(id string, w Worker) *Job {
	return m.NewJob(id, w, true)
}

// Recurring 创建可重复执行的任务.
func (m *Manager) Recurring(id string, w Worker) *Job {
	return m.NewJob(id, w, false)
}

// Add 注册任务.
func (m *Manager) Add(job *Job) error {
	if job == nil {
		return ErrJobNil
	}
	if job.Destroyed() {
		return ErrJobDestroyed
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if _, exists := m.jobs[job.id]; exists {
		m.mu.Unlock()
		return ErrJobExists
	}
	m.jobs[job.id] = job
	n := len(m.jobs)
	m.mu.Unlock()

	m.setRegistered(n)
	m.log.Debugf("[Scheduler] 任务已添加: %s [one_time:%v]", job.id, job.OneTime())
	return nil
}

// Schedule 绑定触发器并注册任务.
//
// 触发器实现了 Arming 时由它安排首次执行，否则立即提交执行.
func (m *Manager) Schedule(job *Job, t Trigger) error {
	if job == nil {
		return ErrJobNil
	}
	if err := job.SetTrigger(t); err != nil {
		return err
	}
	if err := m.Add(job); err != nil {
		job.resetTrigger()
		return err
	}
	if a, ok := t.(Arming); ok {
		if err := a.Arm(m, job); err != nil {
			m.RemoveJob(job)
			job.resetTrigger()
			return err
		}
		return nil
	}
	m.Now(job)
	return nil
}

// Get 获取任务.
func (m *Manager) Get(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	return job, ok
}

// List 列出所有已注册任务.
func (m *Manager) List() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// Now 将任务提交到工作池立即执行.
func (m *Manager) Now(job *Job) {
	if job == nil || job.Destroyed() {
		return
	}
	err := m.Submit(func(ctx context.Context) {
		_ = job.Run(ctx)
	})
	if err != nil {
		m.log.Warnf("[Scheduler] 提交任务失败: %s [error:%v]", job.id, err)
	}
}

// Submit 将函数提交到工作池异步执行.
//
// 并发数受工作池大小限制，函数内的 panic 会被恢复并记录.
func (m *Manager) Submit(fn func(ctx context.Context)) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.wg.Add(1)
	m.mu.RUnlock()

	m.recordSubmit()
	go func() {
		defer m.wg.Done()
		if err := m.sem.Acquire(m.ctx, 1); err != nil {
			return
		}
		defer m.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				m.log.Errorf("[Scheduler] 工作池任务 panic: %v", r)
			}
		}()
		fn(withPool(m.ctx))
	}()
	return nil
}

// Delay 在指定延迟后执行任务.
//
// 同一任务同时最多只有一个待执行的定时器，已有定时器时本次调用被忽略.
func (m *Manager) Delay(job *Job, d time.Duration) error {
	if job == nil {
		return ErrJobNil
	}
	if d <= 0 {
		m.Now(job)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if job.Destroyed() {
		return ErrJobDestroyed
	}
	if _, pending := m.timers[job.id]; pending {
		return nil
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		m.mu.Lock()
		if m.timers[job.id] == t {
			delete(m.timers, job.id)
		}
		m.mu.Unlock()
		m.Now(job)
	})
	m.timers[job.id] = t
	return nil
}

// At 在指定时间执行任务.
func (m *Manager) At(job *Job, at time.Time) error {
	return m.Delay(job, at.Sub(m.now()))
}

// Pending 返回任务是否有待执行的定时器.
func (m *Manager) Pending(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.timers[id]
	return ok
}

// RemoveJob 从注册表移除任务.
func (m *Manager) RemoveJob(job *Job) {
	if job == nil {
		return
	}
	m.mu.Lock()
	if cur, ok := m.jobs[job.id]; ok && cur == job {
		delete(m.jobs, job.id)
	}
	m.unbindLocked(job.id)
	n := len(m.jobs)
	m.mu.Unlock()

	m.setRegistered(n)
	m.log.Debugf("[Scheduler] 任务已移除: %s", job.id)
}

// Cancel 取消任务的后续调度并销毁任务.
// 正在执行的 Run 不会被中断.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	m.mu.Unlock()

	m.cancelJob(job)
	return nil
}

// cancelJob 停止任务的定时器和事件绑定并销毁任务.
// 注册表中同 ID 的其他任务不受影响.
func (m *Manager) cancelJob(job *Job) {
	m.mu.Lock()
	cur, registered := m.jobs[job.id]
	if !registered || cur == job {
		delete(m.jobs, job.id)
		if t, pending := m.timers[job.id]; pending {
			t.Stop()
			delete(m.timers, job.id)
		}
		m.unbindLocked(job.id)
	}
	job.Destroy()
	n := len(m.jobs)
	m.mu.Unlock()

	m.setRegistered(n)
	m.log.Debugf("[Scheduler] 任务已取消: %s", job.id)
}

// Emit 触发事件，执行所有绑定到该主题的任务，返回被触发的任务数.
func (m *Manager) Emit(topic string) int {
	m.mu.Lock()
	bound := m.events[topic]
	jobs := make([]*Job, 0, len(bound))
	for id, job := range bound {
		if job.Done() || job.Destroyed() {
			delete(bound, id)
			continue
		}
		if job.Frozen() {
			continue
		}
		jobs = append(jobs, job)
		if job.OneTime() {
			delete(bound, id)
		}
	}
	if len(bound) == 0 {
		delete(m.events, topic)
	}
	m.mu.Unlock()

	for _, job := range jobs {
		m.Now(job)
	}
	return len(jobs)
}

func (m *Manager) bindEvent(topic string, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	bound, ok := m.events[topic]
	if !ok {
		bound = make(map[string]*Job)
		m.events[topic] = bound
	}
	bound[job.id] = job
	return nil
}

func (m *Manager) unbindLocked(id string) {
	for topic, bound := range m.events {
		delete(bound, id)
		if len(bound) == 0 {
			delete(m.events, topic)
		}
	}
}

// Mode 返回运行模式.
func (m *Manager) Mode() string {
	return m.opts.mode
}

// Dev 是否为开发模式.
func (m *Manager) Dev() bool {
	return m.opts.mode == ModeDev
}

// Started 宿主应用是否已完成启动.
func (m *Manager) Started() bool {
	return m.lifecycle.Started()
}

// Closed 调度器是否已关闭.
func (m *Manager) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// SetBlockIssue 记录阻塞问题，开发模式下会阻止同步子任务继续执行.
// 传入 nil 即清除，因致命故障冻结的任务随之恢复.
func (m *Manager) SetBlockIssue(err error) {
	m.freeze(err)
}

// freeze 记录阻塞问题并返回当前的清除代数.
func (m *Manager) freeze(err error) uint64 {
	m.blockMu.Lock()
	defer m.blockMu.Unlock()
	if err == nil && m.blockIssue != nil {
		m.blockClears++
	}
	m.blockIssue = err
	return m.blockClears
}

func (m *Manager) blockEpoch() uint64 {
	m.blockMu.RLock()
	defer m.blockMu.RUnlock()
	return m.blockClears
}

// BlockIssue 返回当前的阻塞问题.
func (m *Manager) BlockIssue() error {
	m.blockMu.RLock()
	defer m.blockMu.RUnlock()
	return m.blockIssue
}

// HasBlockIssue 是否存在阻塞问题.
func (m *Manager) HasBlockIssue() bool {
	return m.BlockIssue() != nil
}

// ClearBlockIssue 清除阻塞问题.
func (m *Manager) ClearBlockIssue() {
	m.SetBlockIssue(nil)
}

// Name 实现 app.Server.
func (m *Manager) Name() string {
	return "scheduler"
}

// Addr 实现 app.Server.
func (m *Manager) Addr() string {
	return ""
}

// Start 实现 app.Server.
func (m *Manager) Start(context.Context) error {
	if m.Closed() {
		return ErrManagerClosed
	}
	m.log.Debugf("[Scheduler] 调度器已启动 [mode:%s, jobs:%d]", m.opts.mode, len(m.List()))
	return nil
}

// Stop 实现 app.Server.
func (m *Manager) Stop(ctx context.Context) error {
	if d := m.opts.shutdownTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	return m.Shutdown(ctx)
}

// Shutdown 优雅关闭，停止接受新任务并等待工作池中正在执行的任务完成.
// 仍在排队等待工作池的任务被丢弃，正在执行的任务会收到 ctx 取消信号.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.halt()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Debug("[Scheduler] 调度器优雅关闭完成")
		return nil
	case <-ctx.Done():
		m.log.Warn("[Scheduler] 等待任务完成超时")
		return ctx.Err()
	}
}

// halt 停止接受新任务并取消所有定时器，不等待正在执行的任务.
func (m *Manager) halt() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()
	m.cancel()
	m.log.Debug("[Scheduler] 调度器已停止")
}

func (m *Manager) now() time.Time {
	return m.opts.now()
}

func (m *Manager) jobLogger(j *Job) logger.Logger {
	return m.log.With(logger.JobID(j.id))
}

func (m *Manager) recordRun(j *Job, outcome string, d time.Duration) {
	if m.opts.metrics != nil {
		m.opts.metrics.RecordJobRun(j.id, outcome, d)
	}
}

func (m *Manager) recordSubmit() {
	if m.opts.metrics != nil {
		m.opts.metrics.RecordSubmit()
	}
}

func (m *Manager) setRegistered(n int) {
	if m.opts.metrics != nil {
		m.opts.metrics.SetRegisteredJobs(n)
	}
}

type poolKey struct{}

func withPool(ctx context.Context) context.Context {
	return context.WithValue(ctx, poolKey{}, true)
}

// onPool 判断当前是否在工作池中执行.
func onPool(ctx context.Context) bool {
	v, _ := ctx.Value(poolKey{}).(bool)
	return v
}
