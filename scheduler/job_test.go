package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Tsukikage7/jobkit/logger"
	"github.com/Tsukikage7/jobkit/progress"
)

// JobTestSuite 任务图测试套件.
type JobTestSuite struct {
	suite.Suite
	logs *observer.ObservedLogs
	rec  *recorder
	m    *Manager
}

func TestJobSuite(t *testing.T) {
	suite.Run(t, new(JobTestSuite))
}

func (s *JobTestSuite) SetupTest() {
	s.rec = &recorder{}
	s.m = s.newManager()
}

func (s *JobTestSuite) newManager(opts ...Option) *Manager {
	core, logs := observer.New(zapcore.DebugLevel)
	s.logs = logs
	all := append([]Option{WithLogger(logger.NewFromZap(zap.New(core)))}, opts...)
	m, err := New(all...)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func (s *JobTestSuite) registered(id string) bool {
	_, ok := s.m.Get(id)
	return ok
}

// === 基本场景 ===

func (s *JobTestSuite) TestOneTimeJob_RemovedAfterRun() {
	job := s.m.OneTime("a", s.rec.worker("a", nil))
	s.Require().NoError(s.m.Add(job))

	s.NoError(job.Run(context.Background()))

	s.True(job.Executed())
	s.True(job.Done())
	s.False(s.registered("a"))
	s.Equal(int64(1), job.Runs())
}

func (s *JobTestSuite) TestRecurringJob_StaysRegistered() {
	job := s.m.Recurring("r", s.rec.worker("r", nil))
	s.Require().NoError(s.m.Add(job))

	s.NoError(job.Run(context.Background()))
	s.NoError(job.Run(context.Background()))

	s.True(job.Executed())
	s.False(job.Done())
	s.True(s.registered("r"))
	s.Equal(2, s.rec.count("r"))
}

func (s *JobTestSuite) TestRun_PrecedenceSelfFollowingOrder() {
	p := s.m.OneTime("p", s.rec.worker("p", nil))
	c1 := s.m.Recurring("c1", s.rec.worker("c1", nil))
	c2 := s.m.Recurring("c2", s.rec.worker("c2", nil))
	p.AddPrecedenceJob(c1).AddFollowingJob(c2)

	s.NoError(p.Run(context.Background()))

	s.Equal([]string{"c1", "p", "c2"}, s.rec.list())
	for _, j := range []*Job{p, c1, c2} {
		s.True(j.Executed(), j.ID())
		s.True(j.OneTime(), j.ID())
	}
}

func (s *JobTestSuite) TestRun_ParallelChildrenDetached() {
	p := s.m.Recurring("p", s.rec.worker("p", nil))
	p.AddParallelJob(s.m.Recurring("x", s.rec.worker("x", errors.New("ignored"))))
	p.AddParallelJob(s.m.Recurring("y", s.rec.worker("y", nil)))

	s.NoError(p.Run(context.Background()))

	s.Eventually(func() bool {
		return s.rec.count("x") == 1 && s.rec.count("y") == 1
	}, waitFor, tick)
	s.Equal(1, s.rec.count("p"))
}

func (s *JobTestSuite) TestRun_NilWorkerCoordinates() {
	p := s.m.Recurring("p", nil)
	p.AddPrecedenceJob(s.m.Recurring("before", s.rec.worker("before", nil)))
	p.AddFollowingJob(s.m.Recurring("after", s.rec.worker("after", nil)))

	s.NoError(p.Run(context.Background()))

	s.Equal([]string{"before", "after"}, s.rec.list())
	s.True(p.Executed())
}

func (s *JobTestSuite) TestRun_SharedChild() {
	child := s.m.Recurring("shared", s.rec.worker("shared", nil))
	a := s.m.Recurring("a", nil).AddFollowingJob(child)
	b := s.m.Recurring("b", nil).AddPrecedenceJob(child)

	s.NoError(a.Run(context.Background()))
	s.NoError(b.Run(context.Background()))

	s.Equal(2, s.rec.count("shared"))
	s.Equal(int64(2), child.Runs())
}

func (s *JobTestSuite) TestRun_StateDuringWorker() {
	var job *Job
	var seen JobState
	job = s.m.Recurring("state", WorkerFunc(func(context.Context) error {
		seen = job.State()
		return nil
	}))

	s.NoError(job.Run(context.Background()))

	s.Equal(JobStateSelf, seen)
	s.Equal(JobStateIdle, job.State())
	s.Equal("running-self", seen.String())
}

// === 子任务集合 ===

func (s *JobTestSuite) TestChildSet_OneTimePropagation() {
	p := s.m.OneTime("p", nil)
	child := s.m.Recurring("c", nil)
	s.False(child.OneTime())

	p.AddFollowingJob(child)

	s.True(child.OneTime())

	recurringParent := s.m.Recurring("rp", nil)
	other := s.m.Recurring("o", nil)
	recurringParent.AddParallelJob(other)
	s.False(other.OneTime())
}

func (s *JobTestSuite) TestChildSet_AddAfterParentDone() {
	p := s.m.OneTime("p", nil)
	s.Require().NoError(p.Run(context.Background()))
	s.Require().True(p.Done())

	late := s.m.Recurring("late", s.rec.worker("late", nil))
	p.AddFollowingJob(late)

	s.Empty(p.FollowingJobs())
	s.True(late.OneTime())
	s.Eventually(func() bool { return s.rec.count("late") == 1 }, waitFor, tick)
}

func (s *JobTestSuite) TestChildSet_AddDuringSyncIteration() {
	var p *Job
	late := s.m.Recurring("late", s.rec.worker("late", nil))
	first := s.m.Recurring("first", WorkerFunc(func(context.Context) error {
		p.AddPrecedenceJob(late)
		return nil
	}))
	p = s.m.Recurring("p", nil).AddPrecedenceJob(first)

	s.NoError(p.Run(context.Background()))

	s.Len(p.PrecedenceJobs(), 1)
	s.Eventually(func() bool { return s.rec.count("late") == 1 }, waitFor, tick)
}

func (s *JobTestSuite) TestChildSet_AddDuringIteration() {
	entered := make(chan struct{})
	release := make(chan struct{})
	p := s.m.Recurring("p", s.rec.worker("p", nil))
	p.AddPrecedenceJob(s.m.Recurring("slow", WorkerFunc(func(context.Context) error {
		close(entered)
		<-release
		return nil
	})))

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	<-entered

	// 前置子任务仍在执行，此时追加的兄弟任务独立执行
	late := s.m.Recurring("late", s.rec.worker("late", nil))
	go p.AddPrecedenceJob(late)

	s.Eventually(func() bool { return s.rec.count("late") == 1 }, waitFor, tick)
	s.Len(p.PrecedenceJobs(), 1)
	s.Equal(0, s.rec.count("p"))

	close(release)
	s.NoError(<-done)
	s.Equal(1, s.rec.count("p"))
	s.Never(func() bool { return s.rec.count("late") > 1 }, 100*time.Millisecond, tick)
}

func (s *JobTestSuite) TestChildSet_NilChildIgnored() {
	p := s.m.Recurring("p", nil)
	s.Same(p, p.AddFollowingJob(nil))
	s.Empty(p.FollowingJobs())
}

// === 错误处理 ===

func (s *JobTestSuite) TestRecoverableError_TreatedAsComplete() {
	trigger := &countingTrigger{}
	job := s.m.Recurring("flaky", s.rec.worker("flaky", errors.New("temporary")))
	s.Require().NoError(job.SetTrigger(trigger))
	job.AddFollowingJob(s.m.Recurring("next", s.rec.worker("next", nil)))

	s.NoError(job.Run(context.Background()))

	s.True(job.Executed())
	s.Equal(int32(1), trigger.calls.Load())
	s.Equal([]string{"flaky", "next"}, s.rec.list())
	s.Equal(1, s.logs.FilterLevelExact(zapcore.WarnLevel).FilterMessageSnippet("flaky").Len())
	s.False(s.m.HasBlockIssue())
}

func (s *JobTestSuite) TestFatal_ProdDirectCallerReceivesCause() {
	lc := &fakeLifecycle{started: true}
	s.m = s.newManager(WithLifecycle(lc))
	job := s.m.Recurring("boot", s.rec.worker("boot", ConfigurationError("missing %s", "dsn")))
	job.AddFollowingJob(s.m.Recurring("next", s.rec.worker("next", nil)))
	s.Require().NoError(s.m.Add(job))

	err := job.Run(context.Background())

	var fault *Fault
	s.Require().ErrorAs(err, &fault)
	s.Equal(FaultConfiguration, fault.Kind)
	s.Equal(1, lc.shutdownCount())
	s.True(job.Destroyed())
	s.Nil(job.Manager())
	s.Equal([]string{"boot"}, s.rec.list())
}

func (s *JobTestSuite) TestFatal_ProdDirectCallerReceivesUnwrappedCause() {
	lc := &fakeLifecycle{started: true}
	s.m = s.newManager(WithLifecycle(lc))
	fault := ConfigurationError("bad")
	job := s.m.Recurring("boot", WorkerFunc(func(context.Context) error {
		return fmt.Errorf("outer: %w", fault)
	}))

	err := job.Run(context.Background())

	s.Same(fault, err)
	s.EqualError(err, "configuration: bad")
}

func (s *JobTestSuite) TestFatal_ProdStandaloneHaltsManager() {
	job := s.m.Recurring("boot", s.rec.worker("boot", DuplicateRouteMappingError("GET /users")))

	s.Error(job.Run(context.Background()))

	s.True(s.m.Closed())
	s.ErrorIs(s.m.Add(s.m.Recurring("x", nil)), ErrManagerClosed)
}

func (s *JobTestSuite) TestFatal_ProdOnPoolOnlyLogged() {
	lc := &fakeLifecycle{started: true}
	s.m = s.newManager(WithLifecycle(lc))
	job := s.m.Recurring("boot", s.rec.worker("boot", ConfigurationError("bad")))

	s.m.Now(job)

	s.Eventually(func() bool {
		return s.logs.FilterLevelExact(zapcore.ErrorLevel).FilterMessageSnippet("致命故障").Len() == 1
	}, waitFor, tick)
	s.True(job.Destroyed())
	s.Equal(1, lc.shutdownCount())
}

func (s *JobTestSuite) TestFatal_DevRecordsBlockIssue() {
	s.m = s.newManager(WithMode(ModeDev))
	cause := ConfigurationError("bad config")
	job := s.m.Recurring("boot", s.rec.worker("boot", cause))
	job.AddFollowingJob(s.m.Recurring("next", s.rec.worker("next", nil)))

	s.NoError(job.Run(context.Background()))

	s.True(s.m.HasBlockIssue())
	s.ErrorIs(s.m.BlockIssue(), cause)
	s.True(job.Executed())
	s.False(job.Destroyed())
	s.False(s.m.Closed())
	s.Equal([]string{"boot"}, s.rec.list())

	s.m.ClearBlockIssue()
	s.False(s.m.HasBlockIssue())
}

func (s *JobTestSuite) TestFatal_DevBlockIssueStopsPrecedence() {
	s.m = s.newManager(WithMode(ModeDev))
	p := s.m.Recurring("p", s.rec.worker("p", nil))
	p.AddPrecedenceJob(s.m.Recurring("c1", s.rec.worker("c1", ConfigurationError("bad"))))
	p.AddPrecedenceJob(s.m.Recurring("c2", s.rec.worker("c2", nil)))

	s.NoError(p.Run(context.Background()))

	s.Equal(0, s.rec.count("c2"))
	s.True(s.m.HasBlockIssue())
}

func (s *JobTestSuite) TestFatal_PrecedenceChildPropagatesToDirectCaller() {
	lc := &fakeLifecycle{started: true}
	s.m = s.newManager(WithLifecycle(lc))
	p := s.m.Recurring("p", s.rec.worker("p", nil))
	p.AddPrecedenceJob(s.m.Recurring("c1", s.rec.worker("c1", ConfigurationError("bad"))))

	err := p.Run(context.Background())

	var fault *Fault
	s.ErrorAs(err, &fault)
	s.Equal(0, s.rec.count("p"))
}

func (s *JobTestSuite) TestFatal_DevFreezesOnlyOffendingJob() {
	s.m = s.newManager(WithMode(ModeDev))
	job := s.m.Recurring("hook", s.rec.worker("hook", ConfigurationError("bad")))
	s.Require().NoError(s.m.Schedule(job, OnEvent("topic")))

	s.Equal(1, s.m.Emit("topic"))
	s.Eventually(job.Frozen, waitFor, tick)
	s.Equal(1, s.rec.count("hook"))

	s.Equal(0, s.m.Emit("topic"))
	s.NoError(job.Run(context.Background()))
	s.Equal(1, s.rec.count("hook"))

	// 其他任务不受影响
	s.NoError(s.m.Recurring("other", s.rec.worker("other", nil)).Run(context.Background()))
	s.Equal(1, s.rec.count("other"))

	s.m.ClearBlockIssue()
	s.False(job.Frozen())
	s.Equal(1, s.m.Emit("topic"))
	s.Eventually(func() bool { return s.rec.count("hook") == 2 }, waitFor, tick)
}

func (s *JobTestSuite) TestFatal_SuppressesRearmByDefault() {
	s.m = s.newManager(WithMode(ModeDev))
	trigger := &countingTrigger{}
	job := s.m.Recurring("j", s.rec.worker("j", ConfigurationError("bad")))
	s.Require().NoError(job.SetTrigger(trigger))

	s.NoError(job.Run(context.Background()))

	s.Equal(int32(0), trigger.calls.Load())
}

func (s *JobTestSuite) TestFatal_RearmWhenConfigured() {
	s.m = s.newManager(WithMode(ModeDev), WithRearmAfterFatal(true))
	trigger := &countingTrigger{}
	job := s.m.Recurring("j", s.rec.worker("j", ConfigurationError("bad")))
	s.Require().NoError(job.SetTrigger(trigger))

	s.NoError(job.Run(context.Background()))

	s.Equal(int32(1), trigger.calls.Load())
}

func (s *JobTestSuite) TestFatal_CustomSentinel() {
	errQuota := errors.New("quota exhausted")
	s.m = s.newManager(WithMode(ModeDev), WithFatalErrors(errQuota))
	job := s.m.Recurring("j", WorkerFunc(func(context.Context) error {
		return errors.Join(errors.New("sync failed"), errQuota)
	}))

	s.NoError(job.Run(context.Background()))

	s.True(s.m.HasBlockIssue())
}

func (s *JobTestSuite) TestPanic_Recovered() {
	trigger := &countingTrigger{}
	job := s.m.Recurring("p", RunnableFunc(func() { panic("boom") }))
	s.Require().NoError(job.SetTrigger(trigger))

	s.NotPanics(func() {
		s.NoError(job.Run(context.Background()))
	})

	s.True(job.Executed())
	s.Equal(int32(1), trigger.calls.Load())
	s.Equal(1, s.logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func (s *JobTestSuite) TestPanic_WithFatalFault() {
	s.m = s.newManager(WithMode(ModeDev))
	job := s.m.Recurring("p", RunnableFunc(func() {
		panic(ConfigurationError("bad"))
	}))

	s.NoError(job.Run(context.Background()))

	var fault *Fault
	s.ErrorAs(s.m.BlockIssue(), &fault)
}

// === 生命周期 ===

func (s *JobTestSuite) TestOneTime_DeferredRemovalUntilStarted() {
	lc := &fakeLifecycle{}
	s.m = s.newManager(WithLifecycle(lc))
	job := s.m.OneTime("early", nil)
	s.Require().NoError(s.m.Add(job))

	s.NoError(job.Run(context.Background()))

	s.True(job.Done())
	s.True(s.registered("early"))

	lc.start()

	s.False(s.registered("early"))
}

func (s *JobTestSuite) TestDestroy() {
	job := s.m.Recurring("d", s.rec.worker("d", nil))
	job.AddFollowingJob(s.m.Recurring("c", nil))

	job.Destroy()
	job.Destroy()

	s.True(job.Destroyed())
	s.Nil(job.Manager())
	s.Nil(job.Worker())
	s.Empty(job.FollowingJobs())
	s.NoError(job.Run(context.Background()))
	s.Empty(s.rec.list())
	s.ErrorIs(job.Cancel(), ErrJobDestroyed)
	s.ErrorIs(job.SetTrigger(Once()), ErrJobDestroyed)
}

func (s *JobTestSuite) TestCancel() {
	job := s.m.Recurring("c", nil)
	s.Require().NoError(s.m.Add(job))

	s.NoError(job.Cancel())

	s.True(job.Destroyed())
	s.False(s.registered("c"))
}

func (s *JobTestSuite) TestCancel_UnregisteredChild() {
	p := s.m.Recurring("p", nil)
	child := s.m.Recurring("c", s.rec.worker("c", nil))
	p.AddFollowingJob(child)
	other := s.m.Recurring("c", nil)
	s.Require().NoError(s.m.Add(other))

	s.NoError(child.Cancel())

	s.True(child.Destroyed())
	s.False(other.Destroyed())
	s.True(s.registered("c"))
	s.NoError(p.Run(context.Background()))
	s.Equal(0, s.rec.count("c"))
}

func (s *JobTestSuite) TestSetTrigger() {
	job := s.m.Recurring("t", nil)

	s.ErrorIs(job.SetTrigger(nil), ErrTriggerNil)
	s.NoError(job.SetTrigger(Once()))
	s.ErrorIs(job.SetTrigger(FixedDelay(1)), ErrTriggerAlreadySet)
	s.ErrorIs(s.m.Schedule(job, Once()), ErrTriggerAlreadySet)
	s.Equal("once", job.Trigger().(interface{ String() string }).String())
}

// === 钩子 ===

func (s *JobTestSuite) TestHooks() {
	var calls []string
	hooks := NewHooks().
		BeforeJob(func(_ context.Context, jc *JobContext) error {
			calls = append(calls, "before:"+jc.Job.ID())
			return nil
		}).
		AfterJob(func(_ context.Context, jc *JobContext) {
			calls = append(calls, "after:"+jc.Job.ID())
		}).
		OnError(func(_ context.Context, jc *JobContext) {
			calls = append(calls, "error:"+jc.Error.Error())
		}).
		OnFatal(func(_ context.Context, jc *JobContext) {
			calls = append(calls, "fatal:"+jc.Job.ID())
		}).
		Build()
	s.m = s.newManager(WithHooks(hooks), WithMode(ModeDev))

	s.NoError(s.m.Recurring("ok", nil).Run(context.Background()))
	s.NoError(s.m.Recurring("warn", WorkerFunc(func(context.Context) error {
		return errors.New("oops")
	})).Run(context.Background()))
	s.NoError(s.m.Recurring("bad", WorkerFunc(func(context.Context) error {
		return ConfigurationError("bad")
	})).Run(context.Background()))

	s.Equal([]string{
		"before:ok", "after:ok",
		"before:warn", "after:warn", "error:oops",
		"before:bad", "after:bad", "fatal:bad",
	}, calls)
}

func (s *JobTestSuite) TestHooks_BeforeJobErrorSkipsWorker() {
	hooks := NewHooks().BeforeJob(func(context.Context, *JobContext) error {
		return errors.New("not now")
	}).Build()
	s.m = s.newManager(WithHooks(hooks))
	job := s.m.Recurring("j", s.rec.worker("j", nil))

	s.NoError(job.Run(context.Background()))

	s.Empty(s.rec.list())
	s.True(job.Executed())
}

func (s *JobTestSuite) TestUpdateCheck_DevOnly() {
	var checks int
	check := func(context.Context) { checks++ }

	s.m = s.newManager(WithMode(ModeDev), WithUpdateCheck(check))
	s.NoError(s.m.Recurring("dev", nil).Run(context.Background()))

	s.m = s.newManager(WithMode(ModeProd), WithUpdateCheck(check))
	s.NoError(s.m.Recurring("prod", nil).Run(context.Background()))

	s.Equal(1, checks)
}

// === 进度 ===

func (s *JobTestSuite) TestProgress_PublishedWithTag() {
	pub := &fakePublisher{}
	s.m = s.newManager(WithProgressPublisher(pub))
	job := s.m.Recurring("import", ProgressWorkerFunc(func(_ context.Context, g progress.Gauge) error {
		g.UpdateMaxHint(2)
		g.Step()
		g.Step()
		return nil
	}))

	s.NoError(job.Run(context.Background()))

	snaps := pub.snapshots()
	s.Require().Len(snaps, 3)
	s.Equal(50, snaps[1].Percent)
	s.True(snaps[2].Done)
	for _, tag := range pub.tags {
		s.Equal("job_progress:import", tag)
	}
	s.Equal(100, job.ProgressPercent())
}

func (s *JobTestSuite) TestProgress_ReplacedGauge() {
	pub := &fakePublisher{}
	s.m = s.newManager(WithProgressPublisher(pub))
	job := s.m.Recurring("j", nil)
	g := progress.NewBounded(4)

	job.SetProgressGauge(g)
	g.Step()

	s.Same(g, job.Progress())
	s.Equal(25, job.ProgressPercent())
	s.Len(pub.snapshots(), 1)
}

func (s *JobTestSuite) TestProgress_SameGaugeForwardedOnce() {
	pub := &fakePublisher{}
	s.m = s.newManager(WithProgressPublisher(pub))
	job := s.m.Recurring("j", nil)

	job.SetProgressGauge(job.Progress())
	job.Progress().Step()

	s.Len(pub.snapshots(), 1)
}

func (s *JobTestSuite) TestProgress_ReplacedGaugeGoesSilent() {
	pub := &fakePublisher{}
	s.m = s.newManager(WithProgressPublisher(pub))
	job := s.m.Recurring("j", nil)
	old := job.Progress()
	g := progress.NewBounded(4)

	job.SetProgressGauge(g)
	old.Step()
	s.Empty(pub.snapshots())

	job.SetProgressGauge(old)
	old.Step()
	g.Step()
	s.Len(pub.snapshots(), 1)
}

// === 可观测性 ===

func (s *JobTestSuite) TestTracing_SpanPerRun() {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	s.m = s.newManager(WithTracerProvider(tp), WithLifecycle(&fakeLifecycle{started: true}))

	s.NoError(s.m.Recurring("ok", nil).Run(context.Background()))
	s.Error(s.m.Recurring("bad", WorkerFunc(func(context.Context) error {
		return ConfigurationError("bad")
	})).Run(context.Background()))

	spans := sr.Ended()
	s.Require().Len(spans, 2)
	s.Equal("scheduler.job.run", spans[0].Name())
	s.Contains(spans[0].Attributes(), attribute.String("job.id", "ok"))
	s.Equal(codes.Unset, spans[0].Status().Code)
	s.Equal(codes.Error, spans[1].Status().Code)
}

func (s *JobTestSuite) TestMetrics_Outcomes() {
	fm := newFakeMetrics()
	s.m = s.newManager(WithMetrics(fm), WithMode(ModeDev))
	job := s.m.Recurring("j", nil)
	s.Require().NoError(s.m.Add(job))

	s.NoError(job.Run(context.Background()))
	s.NoError(s.m.Recurring("w", WorkerFunc(func(context.Context) error {
		return errors.New("x")
	})).Run(context.Background()))
	s.NoError(s.m.Recurring("f", WorkerFunc(func(context.Context) error {
		return ConfigurationError("x")
	})).Run(context.Background()))

	s.Equal([]string{outcomeSuccess}, fm.outcomesOf("j"))
	s.Equal([]string{outcomeWarned}, fm.outcomesOf("w"))
	s.Equal([]string{outcomeFatal}, fm.outcomesOf("f"))
	s.Equal(int32(1), fm.registered.Load())
}

func (s *JobTestSuite) TestString() {
	p := s.m.OneTime("p", nil)
	s.Require().NoError(p.SetTrigger(Once()))
	p.AddPrecedenceJob(s.m.Recurring("c", nil))

	out := p.String()

	s.Contains(out, "job[p]")
	s.Contains(out, "trigger:once")
	s.Contains(out, "precedence jobs")
	s.Contains(out, "job[c]")
	s.NotContains(out, "parallel jobs")
}
