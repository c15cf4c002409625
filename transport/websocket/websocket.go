// Package websocket 提供基于标签订阅的 WebSocket 推送.
//
// 特性:
//   - 基于 gorilla/websocket 实现
//   - 客户端按标签订阅，推送只发往订阅了该标签的连接
//   - 实现 scheduler.ProgressPublisher，用于推送任务进度
//   - 支持中间件扩展
//
// 示例:
//
//	hub := websocket.NewHub(websocket.SubscriptionHandler())
//	m := scheduler.MustNew(scheduler.WithProgressPublisher(hub))
//
//	// 客户端连接 /ws?tag=job_progress:report 即可收到 report 任务的进度
//	http.Handle("/ws", websocket.HTTPHandler(hub, nil))
package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// MessageType 消息类型.
type MessageType int

const (
	// TextMessage 文本消息.
	TextMessage MessageType = 1
	// BinaryMessage 二进制消息.
	BinaryMessage MessageType = 2
)

// 预定义错误.
var (
	ErrClientNotFound   = errors.New("websocket: client not found")
	ErrHubClosed        = errors.New("websocket: hub is closed")
	ErrConnectionClosed = errors.New("websocket: connection closed")
	ErrWriteTimeout     = errors.New("websocket: write timeout")
	ErrEmptyTag         = errors.New("websocket: empty tag")
)

// Message WebSocket 消息.
type Message struct {
	// Type 消息类型
	Type MessageType
	// Data 消息数据
	Data []byte
	// ClientID 发送者 ID（仅接收时有效）
	ClientID string
	// Timestamp 时间戳
	Timestamp time.Time
}

// Config WebSocket 配置.
type Config struct {
	// ReadBufferSize 读缓冲区大小
	ReadBufferSize int `json:"read_buffer_size" yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	// WriteBufferSize 写缓冲区大小
	WriteBufferSize int `json:"write_buffer_size" yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	// MaxMessageSize 最大消息大小
	MaxMessageSize int64 `json:"max_message_size" yaml:"max_message_size" mapstructure:"max_message_size"`
	// WriteTimeout 写超时
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" mapstructure:"write_timeout"`
	// PingInterval Ping 间隔
	PingInterval time.Duration `json:"ping_interval" yaml:"ping_interval" mapstructure:"ping_interval"`
	// PongTimeout Pong 超时
	PongTimeout time.Duration `json:"pong_timeout" yaml:"pong_timeout" mapstructure:"pong_timeout"`
	// TagParam 连接时携带订阅标签的查询参数名
	TagParam string `json:"tag_param" yaml:"tag_param" mapstructure:"tag_param"`
	// CheckOrigin 跨域检查函数
	CheckOrigin func(origin string) bool `json:"-" yaml:"-" mapstructure:"-"`
}

// DefaultConfig 返回默认配置.
func DefaultConfig() *Config {
	return &Config{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		MaxMessageSize:  64 * 1024,
		WriteTimeout:    10 * time.Second,
		PingInterval:    30 * time.Second,
		PongTimeout:     60 * time.Second,
		TagParam:        "tag",
		CheckOrigin:     func(origin string) bool { return true },
	}
}

// Client WebSocket 客户端接口.
type Client interface {
	// ID 返回客户端 ID
	ID() string
	// Send 发送消息
	Send(msg *Message) error
	// Close 关闭连接
	Close() error
}

// Handler 消息处理器.
type Handler func(h *Hub, client Client, msg *Message)

// Middleware 中间件.
type Middleware func(Handler) Handler

// Hub 连接与订阅管理中心.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]Client
	tags    map[string]map[string]struct{}
	handler Handler
	closed  bool
}

// NewHub 创建新的 Hub.
func NewHub(handler Handler, middlewares ...Middleware) *Hub {
	h := &Hub{
		clients: make(map[string]Client),
		tags:    make(map[string]map[string]struct{}),
		handler: handler,
	}

	// 应用中间件
	if h.handler != nil {
		for i := len(middlewares) - 1; i >= 0; i-- {
			h.handler = middlewares[i](h.handler)
		}
	}

	return h
}

// Register 注册客户端并订阅给定标签.
func (h *Hub) Register(client Client, tags ...string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	h.clients[client.ID()] = client
	for _, tag := range tags {
		h.subscribeLocked(client.ID(), tag)
	}
	return nil
}

// Unregister 注销客户端，同时取消其所有订阅.
func (h *Hub) Unregister(client Client) {
	h.mu.Lock()
	_, ok := h.clients[client.ID()]
	if ok {
		delete(h.clients, client.ID())
		for tag, ids := range h.tags {
			delete(ids, client.ID())
			if len(ids) == 0 {
				delete(h.tags, tag)
			}
		}
	}
	h.mu.Unlock()

	if ok {
		_ = client.Close()
	}
}

// Subscribe 为已注册的客户端订阅标签.
func (h *Hub) Subscribe(clientID, tag string) error {
	if tag == "" {
		return ErrEmptyTag
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[clientID]; !ok {
		return ErrClientNotFound
	}
	h.subscribeLocked(clientID, tag)
	return nil
}

// Unsubscribe 取消客户端对标签的订阅.
func (h *Hub) Unsubscribe(clientID, tag string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ids, ok := h.tags[tag]; ok {
		delete(ids, clientID)
		if len(ids) == 0 {
			delete(h.tags, tag)
		}
	}
}

func (h *Hub) subscribeLocked(clientID, tag string) {
	if tag == "" {
		return
	}
	ids, ok := h.tags[tag]
	if !ok {
		ids = make(map[string]struct{})
		h.tags[tag] = ids
	}
	ids[clientID] = struct{}{}
}

// PublishTagged 将 payload 编码为 JSON 推送给订阅了 tag 的所有客户端.
// 没有订阅者时直接返回.
func (h *Hub) PublishTagged(tag string, payload any) error {
	targets := h.subscribers(tag)
	if len(targets) == 0 {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("websocket: marshal payload: %w", err)
	}

	msg := &Message{Type: TextMessage, Data: data, Timestamp: time.Now()}
	var errs []error
	for _, c := range targets {
		if err := c.Send(msg); err != nil {
			errs = append(errs, fmt.Errorf("client %s: %w", c.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (h *Hub) subscribers(tag string) []Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := h.tags[tag]
	clients := make([]Client, 0, len(ids))
	for id := range ids {
		if c, ok := h.clients[id]; ok {
			clients = append(clients, c)
		}
	}
	return clients
}

// Broadcast 广播消息给所有客户端.
func (h *Hub) Broadcast(msg *Message) {
	h.mu.RLock()
	clients := make([]Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		_ = c.Send(msg)
	}
}

// Send 发送消息给指定客户端.
func (h *Hub) Send(clientID string, msg *Message) error {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()

	if !ok {
		return ErrClientNotFound
	}
	return client.Send(msg)
}

// Tags 返回客户端订阅的标签.
func (h *Hub) Tags(clientID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var tags []string
	for tag, ids := range h.tags {
		if _, ok := ids[clientID]; ok {
			tags = append(tags, tag)
		}
	}
	return tags
}

// Count 返回客户端数量.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close 关闭 Hub 及所有连接.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clients := h.clients
	h.clients = make(map[string]Client)
	h.tags = make(map[string]map[string]struct{})
	h.mu.Unlock()

	for _, client := range clients {
		_ = client.Close()
	}
	return nil
}

// HandleMessage 处理客户端消息.
func (h *Hub) HandleMessage(client Client, msg *Message) {
	if h.handler != nil {
		h.handler(h, client, msg)
	}
}

// command 客户端订阅指令.
type command struct {
	Action string `json:"action"`
	Tag    string `json:"tag"`
}

// SubscriptionHandler 处理客户端发来的订阅指令.
//
//	{"action":"subscribe","tag":"job_progress:report"}
//	{"action":"unsubscribe","tag":"job_progress:report"}
func SubscriptionHandler() Handler {
	return func(h *Hub, client Client, msg *Message) {
		var cmd command
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			return
		}
		switch cmd.Action {
		case "subscribe":
			_ = h.Subscribe(client.ID(), cmd.Tag)
		case "unsubscribe":
			h.Unsubscribe(client.ID(), cmd.Tag)
		}
	}
}
