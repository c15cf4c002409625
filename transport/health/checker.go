package health

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// BlockingHost 可以报告阻塞问题的调度宿主，*scheduler.Manager 实现了此接口.
type BlockingHost interface {
	BlockIssue() error
	Closed() bool
	Mode() string
}

// SchedulerChecker 调度器就绪检查.
//
// 调度器已关闭或存在阻塞问题时返回 DOWN.
type SchedulerChecker struct {
	name string
	host BlockingHost
}

// NewSchedulerChecker 创建调度器检查器.
func NewSchedulerChecker(name string, host BlockingHost) *SchedulerChecker {
	return &SchedulerChecker{name: name, host: host}
}

// Name 返回检查器名称.
func (c *SchedulerChecker) Name() string {
	return c.name
}

// Check 执行检查.
func (c *SchedulerChecker) Check(context.Context) CheckResult {
	details := map[string]any{"mode": c.host.Mode()}
	if c.host.Closed() {
		return CheckResult{Status: StatusDown, Message: "scheduler closed", Details: details}
	}
	if err := c.host.BlockIssue(); err != nil {
		return CheckResult{Status: StatusDown, Message: err.Error(), Details: details}
	}
	return CheckResult{Status: StatusUp, Details: details}
}

// RedisChecker Redis 连通性检查，用于 BridgeRedis 使用的连接.
type RedisChecker struct {
	name   string
	client redis.UniversalClient
}

// NewRedisChecker 创建 Redis 检查器.
func NewRedisChecker(name string, client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{name: name, client: client}
}

// Name 返回检查器名称.
func (c *RedisChecker) Name() string {
	return c.name
}

// Check 执行 PING.
func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return CheckResult{Status: StatusDown, Message: err.Error(), Details: map[string]any{"type": "redis"}}
	}
	return CheckResult{Status: StatusUp, Details: map[string]any{"type": "redis"}}
}

// CheckerFunc 函数类型检查器.
type CheckerFunc struct {
	name string
	fn   func(ctx context.Context) CheckResult
}

// NewCheckerFunc 创建函数类型检查器.
func NewCheckerFunc(name string, fn func(ctx context.Context) CheckResult) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

// Name 返回检查器名称.
func (c *CheckerFunc) Name() string {
	return c.name
}

// Check 执行健康检查.
func (c *CheckerFunc) Check(ctx context.Context) CheckResult {
	return c.fn(ctx)
}
