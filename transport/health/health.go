// Package health 提供调度进程的存活与就绪检查.
//
// 就绪检查会把调度器记录的阻塞问题和已关闭状态报告为 DOWN，
// 便于在开发模式下第一时间发现致命故障.
package health

import (
	"context"
	"sync"
	"time"
)

// Status 健康状态.
type Status string

const (
	// StatusUp 服务健康.
	StatusUp Status = "UP"
	// StatusDown 服务不健康.
	StatusDown Status = "DOWN"
	// StatusUnknown 状态未知.
	StatusUnknown Status = "UNKNOWN"
)

// CheckResult 单个检查器的检查结果.
type CheckResult struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Response 健康检查响应.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker 健康检查器接口.
type Checker interface {
	// Name 返回检查器名称.
	Name() string
	// Check 执行健康检查.
	Check(ctx context.Context) CheckResult
}

// Option Health 配置选项.
type Option func(*Health)

// Health 健康检查管理器.
type Health struct {
	mu        sync.RWMutex
	liveness  []Checker
	readiness []Checker
	timeout   time.Duration
}

// New 创建健康检查管理器.
func New(opts ...Option) *Health {
	h := &Health{
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// WithTimeout 设置检查超时时间.
func WithTimeout(d time.Duration) Option {
	return func(h *Health) {
		h.timeout = d
	}
}

// WithLivenessChecker 添加存活检查器.
func WithLivenessChecker(checkers ...Checker) Option {
	return func(h *Health) {
		h.liveness = append(h.liveness, checkers...)
	}
}

// WithReadinessChecker 添加就绪检查器.
func WithReadinessChecker(checkers ...Checker) Option {
	return func(h *Health) {
		h.readiness = append(h.readiness, checkers...)
	}
}

// AddReadinessChecker 动态添加就绪检查器.
func (h *Health) AddReadinessChecker(checkers ...Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, checkers...)
}

// Liveness 执行存活检查，没有检查器时返回 UP.
func (h *Health) Liveness(ctx context.Context) Response {
	h.mu.RLock()
	checkers := append([]Checker(nil), h.liveness...)
	h.mu.RUnlock()

	return h.runChecks(ctx, checkers)
}

// Readiness 执行就绪检查，没有检查器时返回 UP.
func (h *Health) Readiness(ctx context.Context) Response {
	h.mu.RLock()
	checkers := append([]Checker(nil), h.readiness...)
	h.mu.RUnlock()

	return h.runChecks(ctx, checkers)
}

// runChecks 并发执行所有检查器，任一 DOWN 则整体 DOWN.
func (h *Health) runChecks(ctx context.Context, checkers []Checker) Response {
	resp := Response{Status: StatusUp, Timestamp: time.Now()}
	if len(checkers) == 0 {
		return resp
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make([]CheckResult, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			results[i] = c.Check(checkCtx)
		}(i, c)
	}
	wg.Wait()

	resp.Checks = make(map[string]CheckResult, len(checkers))
	for i, c := range checkers {
		r := results[i]
		resp.Checks[c.Name()] = r
		switch {
		case r.Status == StatusDown:
			resp.Status = StatusDown
		case r.Status == StatusUnknown && resp.Status == StatusUp:
			resp.Status = StatusUnknown
		}
	}
	return resp
}

// IsHealthy 返回就绪检查是否通过.
func (h *Health) IsHealthy(ctx context.Context) bool {
	return h.Readiness(ctx).Status == StatusUp
}
