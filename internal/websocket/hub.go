package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"hookforms/backend/internal/domain"
	"hookforms/backend/internal/monitoring"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 256
)

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if origin == "*" || origin == requestOrigin {
					return true
				}
			}
			return false
		},
	}
}

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypeEvent      MessageType = "event"
	MessageTypeSubscribed MessageType = "subscribed"
	MessageTypePing       MessageType = "ping"
	MessageTypePong       MessageType = "pong"
	MessageTypeError      MessageType = "error"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Inbox     string          `json:"inbox,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client 代表一个订阅了某个收件箱的连接
type Client struct {
	ID      string
	InboxID string
	Slug    string
	conn    *websocket.Conn
	send    chan []byte
	hub     *Hub
}

// broadcastMessage 待广播的消息
type broadcastMessage struct {
	inboxID string
	data    []byte
}

// Hub 管理所有实时事件推送连接
type Hub struct {
	clients        map[string]*Client            // clientID -> Client
	inboxes        map[string]map[string]*Client // inboxID -> clientID -> Client
	register       chan *Client
	unregister     chan *Client
	broadcast      chan broadcastMessage
	mu             sync.RWMutex
	log            *zap.Logger
	metrics        *monitoring.Metrics
	allowedOrigins []string
	upgrader       websocket.Upgrader
	done           chan struct{}
}

// NewHub 创建 Hub，allowedOrigins 为空时允许所有来源
func NewHub(allowedOrigins []string, metrics *monitoring.Metrics, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:        make(map[string]*Client),
		inboxes:        make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan broadcastMessage, 256),
		log:            log.Named("stream"),
		metrics:        metrics,
		allowedOrigins: allowedOrigins,
		upgrader:       upgraderFactory(allowedOrigins),
		done:           make(chan struct{}),
	}
}

// Run 启动 Hub，ctx 结束时关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("event stream hub stopped")
			close(h.done)
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			if h.inboxes[client.InboxID] == nil {
				h.inboxes[client.InboxID] = make(map[string]*Client)
			}
			h.inboxes[client.InboxID][client.ID] = client
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.StreamConnected()
			}
			h.log.Info("stream client registered", zap.String("id", client.ID), zap.String("inbox", client.Slug))

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.broadcastToInbox(msg.inboxID, msg.data)

		case <-ticker.C:
			h.pingAllClients()
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	if subs, ok := h.inboxes[client.InboxID]; ok {
		delete(subs, client.ID)
		if len(subs) == 0 {
			delete(h.inboxes, client.InboxID)
		}
	}
	delete(h.clients, client.ID)
	close(client.send)
	if h.metrics != nil {
		h.metrics.StreamDisconnected()
	}
	h.log.Info("stream client unregistered", zap.String("id", client.ID))
}

// NotifyEvent 把新事件推送给订阅该收件箱的客户端，不会阻塞调用方
func (h *Hub) NotifyEvent(slug string, ev *domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("failed to marshal event", zap.Error(err))
		return
	}
	msg, err := json.Marshal(&Message{
		Type:      MessageTypeEvent,
		Inbox:     slug,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- broadcastMessage{inboxID: ev.InboxID, data: msg}:
	default:
		h.log.Warn("stream broadcast queue full, dropping event", zap.String("event_id", ev.ID))
	}
}

// Subscribers 当前订阅某收件箱的连接数
func (h *Hub) Subscribers(inboxID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.inboxes[inboxID])
}

// broadcastToInbox 向订阅特定收件箱的客户端广播消息
func (h *Hub) broadcastToInbox(inboxID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.inboxes[inboxID] {
		select {
		case client.send <- data:
		default:
			h.log.Warn("client channel blocked, skipping", zap.String("client_id", client.ID))
		}
	}
}

// pingAllClients 向所有客户端发送应用层 ping
func (h *Hub) pingAllClients() {
	data, err := json.Marshal(&Message{Type: MessageTypePing, Timestamp: time.Now().UTC()})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}

// closeAllClients 关闭所有客户端连接
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*Client)
	h.inboxes = make(map[string]map[string]*Client)
}

// Serve 把请求升级为 WebSocket 并订阅收件箱。调用前必须完成认证。
func (h *Hub) Serve(c *gin.Context, inbox *domain.Inbox) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection",
			zap.Error(err),
			zap.String("origin", c.Request.Header.Get("Origin")),
			zap.String("remote_addr", c.ClientIP()))
		return
	}

	client := &Client{
		ID:      uuid.NewString(),
		InboxID: inbox.ID,
		Slug:    inbox.Slug,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		hub:     h,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	client.sendMessage(&Message{Type: MessageTypeSubscribed, Inbox: inbox.Slug, Timestamp: time.Now().UTC()})

	go client.writePump()
	go client.readPump()
}

// readPump 读取客户端消息，只处理 ping 与关闭
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("websocket error", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case MessageTypePing:
			c.sendMessage(&Message{Type: MessageTypePong, Timestamp: time.Now().UTC()})
		case MessageTypePong:
			_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		default:
			c.sendMessage(&Message{Type: MessageTypeError, Error: "unsupported message type", Timestamp: time.Now().UTC()})
		}
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendMessage 发送消息给客户端
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	defer func() {
		// send 可能已被 Hub 关闭
		_ = recover()
	}()
	select {
	case c.send <- data:
	default:
		c.hub.log.Warn("client channel blocked", zap.String("client_id", c.ID))
	}
}
