package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// gorillaClient gorilla/websocket 客户端实现.
type gorillaClient struct {
	id     string
	conn   *websocket.Conn
	hub    *Hub
	send   chan *Message
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
	closed bool
	config *Config
}

func newGorillaClient(h *Hub, conn *websocket.Conn, config *Config) *gorillaClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &gorillaClient{
		id:     uuid.NewString(),
		conn:   conn,
		hub:    h,
		send:   make(chan *Message, 256),
		ctx:    ctx,
		cancel: cancel,
		config: config,
	}
}

// ID 返回客户端 ID.
func (c *gorillaClient) ID() string {
	return c.id
}

// Send 发送消息.
func (c *gorillaClient) Send(msg *Message) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnectionClosed
	}

	timer := time.NewTimer(c.config.WriteTimeout)
	defer timer.Stop()
	select {
	case c.send <- msg:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	}
}

// Close 关闭连接.
func (c *gorillaClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	close(c.send)
	return nil
}

// readPump 读取消息循环.
func (c *gorillaClient) readPump() {
	defer c.hub.Unregister(c)

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		c.hub.HandleMessage(c, &Message{
			Type:      MessageType(msgType),
			Data:      data,
			ClientID:  c.id,
			Timestamp: time.Now(),
		})
	}
}

// writePump 写入消息循环.
func (c *gorillaClient) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(int(msg.Type), msg.Data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Upgrader WebSocket 升级器.
type Upgrader struct {
	config   *Config
	upgrader websocket.Upgrader
}

// NewUpgrader 创建升级器.
func NewUpgrader(config *Config) *Upgrader {
	if config == nil {
		config = DefaultConfig()
	}

	return &Upgrader{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				if config.CheckOrigin != nil {
					return config.CheckOrigin(r.Header.Get("Origin"))
				}
				return true
			},
		},
	}
}

// Upgrade 升级 HTTP 连接为 WebSocket，查询参数中的标签会被自动订阅.
func (u *Upgrader) Upgrade(h *Hub, w http.ResponseWriter, r *http.Request) (Client, error) {
	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	client := newGorillaClient(h, conn, u.config)
	if err := h.Register(client, r.URL.Query()[u.config.TagParam]...); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go client.writePump()
	go client.readPump()

	return client, nil
}

// ServeWS 升级连接并注册到 Hub.
func ServeWS(h *Hub, w http.ResponseWriter, r *http.Request, config *Config) error {
	_, err := NewUpgrader(config).Upgrade(h, w, r)
	return err
}

// HTTPHandler 返回 HTTP 处理器.
func HTTPHandler(h *Hub, config *Config) http.HandlerFunc {
	upgrader := NewUpgrader(config)
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = upgrader.Upgrade(h, w, r)
	}
}
