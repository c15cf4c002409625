package scheduler

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// BridgeRedis 订阅 Redis 频道，将每条消息转换为 Manager.Emit(频道名).
//
// 订阅确认成功后返回，之后在后台转发消息，直到 ctx 取消或调度器关闭.
// 绑定 OnEvent(channel) 的任务即可由其他进程通过 PUBLISH 触发.
func BridgeRedis(ctx context.Context, client redis.UniversalClient, m *Manager, channels ...string) error {
	if client == nil {
		return fmt.Errorf("%w: redis client is nil", ErrInvalidConfig)
	}
	if len(channels) == 0 {
		return fmt.Errorf("%w: no channels to subscribe", ErrInvalidConfig)
	}
	if m.Closed() {
		return ErrManagerClosed
	}

	sub := client.Subscribe(ctx, channels...)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("订阅 redis 频道失败: %w", err)
	}
	m.log.Debugf("[Scheduler] 已订阅 redis 频道: %v", channels)

	go func() {
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				n := m.Emit(msg.Channel)
				m.log.Debugf("[Scheduler] 收到 redis 事件: %s [jobs:%d]", msg.Channel, n)
			}
		}
	}()
	return nil
}
