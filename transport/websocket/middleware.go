package websocket

import (
	"time"

	"github.com/Tsukikage7/jobkit/logger"
)

// LoggingMiddleware 日志中间件.
func LoggingMiddleware(log logger.Logger) Middleware {
	return func(next Handler) Handler {
		return func(h *Hub, client Client, msg *Message) {
			start := time.Now()
			next(h, client, msg)
			log.With(
				logger.String("client_id", client.ID()),
				logger.Int("size", len(msg.Data)),
				logger.Duration("duration", time.Since(start)),
			).Debug("[WebSocket] 消息已处理")
		}
	}
}

// RecoveryMiddleware Panic 恢复中间件.
func RecoveryMiddleware(log logger.Logger) Middleware {
	return func(next Handler) Handler {
		return func(h *Hub, client Client, msg *Message) {
			defer func() {
				if r := recover(); r != nil {
					log.With(logger.String("client_id", client.ID())).
						Errorf("[WebSocket] 消息处理 panic: %v", r)
				}
			}()
			next(h, client, msg)
		}
	}
}

// MessageSizeMiddleware 消息大小限制中间件，超出的消息直接丢弃.
func MessageSizeMiddleware(maxSize int64) Middleware {
	return func(next Handler) Handler {
		return func(h *Hub, client Client, msg *Message) {
			if int64(len(msg.Data)) > maxSize {
				return
			}
			next(h, client, msg)
		}
	}
}
