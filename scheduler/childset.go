package scheduler

import (
	"context"
	"sync"
)

// childSet 某个父任务的一组子任务.
//
// 子任务可能在父任务遍历这一组时向同一组追加兄弟任务，
// 因此遍历期间或父任务已完成时新加入的任务不会入队，而是直接提交到工作池独立执行.
type childSet struct {
	label     string
	parent    *Job
	mu        sync.Mutex
	iterating int
	jobs      []*Job
}

func newChildSet(parent *Job, label string) *childSet {
	return &childSet{parent: parent, label: label}
}

// add 添加子任务，返回父任务以便链式调用.
func (s *childSet) add(child *Job) *Job {
	if child == nil {
		return s.parent
	}

	s.mu.Lock()
	if s.parent.OneTime() {
		child.setOneTime()
	}
	if s.parent.Done() || s.iterating > 0 {
		s.mu.Unlock()
		m := s.parent.Manager()
		if m == nil {
			m = child.Manager()
		}
		if m != nil {
			m.Now(child)
		}
		return s.parent
	}
	s.jobs = append(s.jobs, child)
	s.mu.Unlock()
	return s.parent
}

// runAll 按插入顺序执行所有子任务.
//
// async 为 true 时逐个提交到工作池，不等待完成；
// 否则在当前 goroutine 内依次执行，开发模式下出现阻塞问题后停止.
// 同步执行时子任务返回的致命错误会中断遍历并向上返回.
func (s *childSet) runAll(ctx context.Context, async bool) error {
	s.mu.Lock()
	if len(s.jobs) == 0 {
		s.mu.Unlock()
		return nil
	}
	jobs := make([]*Job, len(s.jobs))
	copy(jobs, s.jobs)
	s.iterating++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.iterating--
		s.mu.Unlock()
	}()

	m := s.parent.Manager()
	if m == nil {
		return nil
	}

	for _, child := range jobs {
		if async {
			m.Now(child)
			continue
		}
		if err := child.Run(ctx); err != nil {
			return err
		}
		if m.Dev() && m.HasBlockIssue() {
			break
		}
	}
	return nil
}

// list 返回子任务快照.
func (s *childSet) list() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]*Job, len(s.jobs))
	copy(jobs, s.jobs)
	return jobs
}

func (s *childSet) clear() {
	s.mu.Lock()
	s.jobs = nil
	s.mu.Unlock()
}
