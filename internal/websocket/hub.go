package websocket

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Hub WebSocket连接管理中心
// 把机台事件实时推给所有已连接的监控客户端
type Hub struct {
	clients   map[string]*Client
	clientsMu sync.RWMutex

	// 消息广播通道
	broadcast chan *Message

	// 注册/注销通道
	register   chan *Client
	unregister chan *Client

	stop chan struct{}

	logger *zap.Logger
}

// Message 推送给监控客户端的消息
type Message struct {
	Type      string                 `json:"type"`
	Event     string                 `json:"event,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// MessageType 消息类型
const (
	MessageTypeConnected    = "connected"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
	MessageTypeSubscribe    = "subscribe"
	MessageTypeMachineEvent = "machine_event"
)

// NewHub 创建Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		broadcast:  make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
		logger:     logger,
	}
}

// Run 运行Hub
func (h *Hub) Run() {
	go h.runHeartbeat()

	for {
		select {
		case <-h.stop:
			h.closeAll()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop 停止Hub并断开所有客户端
func (h *Hub) Stop() {
	close(h.stop)
}

// Publish 把一条机台事件排进广播队列
// 在机台循环上被调用，队列满时丢弃而不是阻塞
func (h *Hub) Publish(name string, args map[string]interface{}) {
	msg := &Message{
		Type:      MessageTypeMachineEvent,
		Event:     name,
		Data:      args,
		Timestamp: time.Now().Unix(),
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("事件广播队列已满，丢弃", zap.String("event", name))
	}
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.clientsMu.Lock()
	h.clients[client.ID] = client
	h.clientsMu.Unlock()

	h.logger.Info("监控客户端连接",
		zap.String("client_id", client.ID),
		zap.String("operator", client.Username))

	msg := &Message{
		Type:      MessageTypeConnected,
		Timestamp: time.Now().Unix(),
	}
	h.sendToClient(client, msg)
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.clientsMu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		delete(h.clients, client.ID)
		close(client.Send)
	}
	h.clientsMu.Unlock()

	h.logger.Info("监控客户端断开",
		zap.String("client_id", client.ID),
		zap.String("operator", client.Username))
}

// broadcastMessage 按订阅前缀把消息发给各客户端
func (h *Hub) broadcastMessage(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return
	}

	h.clientsMu.RLock()
	for _, client := range h.clients {
		if message.Event != "" && !client.wantsEvent(message.Event) {
			continue
		}
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("客户端发送缓冲区满",
				zap.String("client_id", client.ID))
		}
	}
	h.clientsMu.RUnlock()
}

// sendToClient 发送消息给指定客户端
func (h *Hub) sendToClient(client *Client, message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return
	}

	select {
	case client.Send <- data:
	default:
		h.logger.Warn("客户端发送缓冲区满",
			zap.String("client_id", client.ID))
	}
}

// closeAll 断开所有客户端
func (h *Hub) closeAll() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for id, client := range h.clients {
		close(client.Send)
		delete(h.clients, id)
	}
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// runHeartbeat 周期性的应用层心跳
func (h *Hub) runHeartbeat() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			ping := &Message{
				Type:      MessageTypePing,
				Timestamp: time.Now().Unix(),
			}
			select {
			case h.broadcast <- ping:
			default:
			}
		}
	}
}

// wantsEvent 判断客户端是否订阅了该事件
// 没设过滤前缀时收全部事件
func (c *Client) wantsEvent(event string) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	if len(c.filters) == 0 {
		return true
	}
	for _, prefix := range c.filters {
		if strings.HasPrefix(event, prefix) {
			return true
		}
	}
	return false
}
