package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tsukikage7/jobkit/progress"
)

// recorder 记录任务执行顺序.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) worker(name string, err error) Worker {
	return WorkerFunc(func(context.Context) error {
		r.add(name)
		return err
	})
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *recorder) count(name string) int {
	n := 0
	for _, c := range r.list() {
		if c == name {
			n++
		}
	}
	return n
}

// countingTrigger 记录 ScheduleFollowingCalls 的调用次数.
type countingTrigger struct {
	calls atomic.Int32
}

func (t *countingTrigger) ScheduleFollowingCalls(*Manager, *Job) {
	t.calls.Add(1)
}

// fakeLifecycle 可控的宿主生命周期.
type fakeLifecycle struct {
	mu        sync.Mutex
	started   bool
	pending   []func()
	shutdowns int
}

func (l *fakeLifecycle) Started() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}

func (l *fakeLifecycle) OnStarted(fn func()) {
	l.mu.Lock()
	if !l.started {
		l.pending = append(l.pending, fn)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	fn()
}

func (l *fakeLifecycle) Shutdown() {
	l.mu.Lock()
	l.shutdowns++
	l.mu.Unlock()
}

func (l *fakeLifecycle) start() {
	l.mu.Lock()
	l.started = true
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func (l *fakeLifecycle) shutdownCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shutdowns
}

// fakePublisher 记录推送的进度.
type fakePublisher struct {
	mu       sync.Mutex
	tags     []string
	payloads []any
}

func (p *fakePublisher) PublishTagged(tag string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tags = append(p.tags, tag)
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *fakePublisher) snapshots() []progress.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []progress.Snapshot
	for _, payload := range p.payloads {
		m, ok := payload.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := m["job_progress"].(progress.Snapshot); ok {
			out = append(out, s)
		}
	}
	return out
}

// fakeMetrics 记录任务执行结果.
type fakeMetrics struct {
	mu         sync.Mutex
	outcomes   map[string][]string
	submits    atomic.Int32
	registered atomic.Int32
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{outcomes: make(map[string][]string)}
}

func (f *fakeMetrics) RecordJobRun(jobID, outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[jobID] = append(f.outcomes[jobID], outcome)
}

func (f *fakeMetrics) RecordSubmit() { f.submits.Add(1) }

func (f *fakeMetrics) SetRegisteredJobs(n int) { f.registered.Store(int32(n)) }

func (f *fakeMetrics) outcomesOf(id string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.outcomes[id]...)
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)
