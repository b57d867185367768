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

	"mailbin/backend/internal/domain"
	"mailbin/backend/internal/monitoring"
)

// MailboxResolver 存活邮箱定位接口。
// 知道地址即可订阅，过期地址在这里被拦下。
type MailboxResolver interface {
	Get(addr string) (*domain.Mailbox, error)
}

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// 如果允许所有来源
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			// 获取请求的 Origin
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				// 如果没有 Origin，检查是否是同源请求
				return true
			}

			// 检查 Origin 是否在允许列表中
			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
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
	MessageTypeNewMail     MessageType = "new_mail"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
	MessageTypeSubscribe   MessageType = "subscribe"
	MessageTypeUnsubscribe MessageType = "unsubscribe"
	MessageTypeSubscribed  MessageType = "subscribed"
	MessageTypeError       MessageType = "error"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	Address   string          `json:"address,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client 代表一个WebSocket客户端连接
type Client struct {
	ID        string
	conn      *websocket.Conn
	send      chan []byte
	hub       *Hub
	addresses map[string]bool // 订阅的邮箱地址
	mu        sync.RWMutex
	log       *zap.Logger
}

// Hub 管理所有WebSocket连接
type Hub struct {
	clients        map[string]*Client            // clientID -> Client
	addresses      map[string]map[string]*Client // address -> clientID -> Client
	register       chan *Client
	unregister     chan *Client
	broadcast      chan *BroadcastMessage
	mu             sync.RWMutex
	log            *zap.Logger
	allowedOrigins []string
	resolver       MailboxResolver
	metrics        *monitoring.Metrics
}

// BroadcastMessage 广播消息
type BroadcastMessage struct {
	Address string
	Message *Message
}

// NewHub 创建WebSocket Hub
//
// 参数:
//   - allowedOrigins: 允许的 Origin 列表，用于 WebSocket 连接验证
//   - resolver: 存活邮箱定位接口，订阅前校验地址
//   - logger: 日志记录器
func NewHub(allowedOrigins []string, resolver MailboxResolver, logger *zap.Logger) *Hub {
	// 如果没有配置，默认允许所有
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	return &Hub{
		clients:        make(map[string]*Client),
		addresses:      make(map[string]map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan *BroadcastMessage, 256),
		log:            logger,
		allowedOrigins: allowedOrigins,
		resolver:       resolver,
	}
}

// SetMetrics 设置指标收集器（可选）
func (h *Hub) SetMetrics(m *monitoring.Metrics) {
	h.metrics = m
}

// Run 启动Hub
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			// 连接时携带的初始地址直接入索引
			for address := range client.addresses {
				if h.addresses[address] == nil {
					h.addresses[address] = make(map[string]*Client)
				}
				h.addresses[address][client.ID] = client
			}
			count := len(h.clients)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.UpdateWebsocketClients(count)
			}
			h.log.Info("client registered", zap.String("id", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				// 从所有地址订阅中移除
				for address := range client.addresses {
					if clients, exists := h.addresses[address]; exists {
						delete(clients, client.ID)
						if len(clients) == 0 {
							delete(h.addresses, address)
						}
					}
				}
				delete(h.clients, client.ID)
				close(client.send)
				h.log.Info("client unregistered", zap.String("id", client.ID))
			}
			count := len(h.clients)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.UpdateWebsocketClients(count)
			}

		case msg := <-h.broadcast:
			h.broadcastToAddress(msg.Address, msg.Message)

		case <-ticker.C:
			// 定期ping所有客户端
			h.pingAllClients()
		}
	}
}

// NewMailData 新邮件通知数据
type NewMailData struct {
	MessageID  string `json:"messageId"`
	Address    string `json:"address"`
	From       string `json:"from"`
	To         string `json:"to"`
	Subject    string `json:"subject"`
	Preview    string `json:"preview,omitempty"`
	HasHTML    bool   `json:"hasHtml"`
	HasText    bool   `json:"hasText"`
	ReceivedAt string `json:"receivedAt"`
}

// NotifyNewMail 向订阅该地址的客户端推送新邮件通知
func (h *Hub) NotifyNewMail(address string, message *domain.Message) {
	preview := message.TextBody
	if len(preview) > 100 {
		preview = preview[:100]
	}

	newMailData := NewMailData{
		MessageID:  message.ID,
		Address:    address,
		From:       message.From,
		To:         message.To,
		Subject:    message.Subject,
		Preview:    preview,
		HasHTML:    message.HTMLBody != "",
		HasText:    message.TextBody != "",
		ReceivedAt: message.ReceivedAt.Format(time.RFC3339),
	}

	data, err := json.Marshal(newMailData)
	if err != nil {
		h.log.Error("failed to marshal new mail data", zap.Error(err))
		return
	}

	msg := &Message{
		Type:      MessageTypeNewMail,
		Address:   address,
		Data:      data,
		Timestamp: time.Now(),
	}

	h.broadcast <- &BroadcastMessage{
		Address: address,
		Message: msg,
	}
}

// broadcastToAddress 向订阅特定地址的客户端广播消息
func (h *Hub) broadcastToAddress(address string, msg *Message) {
	h.mu.RLock()
	clients := h.addresses[address]
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	for _, client := range clients {
		select {
		case client.send <- data:
		default:
			// 客户端阻塞，跳过
			h.log.Warn("client channel blocked, skipping", zap.String("clientID", client.ID))
		}
	}
}

// pingAllClients 向所有客户端发送ping
func (h *Hub) pingAllClients() {
	msg := &Message{
		Type:      MessageTypePing,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
			// 跳过阻塞的客户端
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
	h.addresses = make(map[string]map[string]*Client)
}

// HandleWebSocket 处理WebSocket连接
//
// 路由形如 /v1/mailboxes/:address/ws，连接建立即订阅该地址。
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	// 使用 Hub 配置的允许 Origin 创建 upgrader
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		// 地址存活校验，过期邮箱直接拒绝
		mailbox, err := hub.resolver.Get(c.Param("address"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "msg": "mailbox not found"})
			return
		}

		// 升级连接
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Error("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			ID:        uuid.NewString(),
			conn:      conn,
			send:      make(chan []byte, 256),
			hub:       hub,
			addresses: map[string]bool{mailbox.Address: true},
			log:       hub.log,
		}

		// 注册客户端
		hub.register <- client

		// 启动读写协程
		go client.writePump()
		go client.readPump()
	}
}

// readPump 处理客户端消息
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error("websocket error", zap.Error(err))
			}
			break
		}

		// 处理消息
		c.handleMessage(&msg)
	}
}

// writePump 发送消息给客户端
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			c.conn.WriteMessage(websocket.TextMessage, message)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeSubscribe:
		c.subscribeAddress(msg.Address)
	case MessageTypeUnsubscribe:
		c.unsubscribeAddress(msg.Address)
	case MessageTypePong:
		// 客户端响应pong，更新活动时间
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	default:
		c.log.Warn("unknown message type", zap.String("type", string(msg.Type)))
	}
}

// subscribeAddress 订阅地址，按存活邮箱校验后以规范地址入索引
func (c *Client) subscribeAddress(address string) {
	if address == "" {
		c.sendError("address is required")
		return
	}

	mailbox, err := c.hub.resolver.Get(address)
	if err != nil {
		c.log.Warn("subscription denied: mailbox not found",
			zap.String("clientID", c.ID),
			zap.String("address", address))
		c.sendError("mailbox not found: " + address)
		return
	}

	c.mu.Lock()
	c.addresses[mailbox.Address] = true
	c.mu.Unlock()

	c.hub.mu.Lock()
	if c.hub.addresses[mailbox.Address] == nil {
		c.hub.addresses[mailbox.Address] = make(map[string]*Client)
	}
	c.hub.addresses[mailbox.Address][c.ID] = c
	c.hub.mu.Unlock()

	c.log.Info("subscribed to address",
		zap.String("clientID", c.ID),
		zap.String("address", mailbox.Address))

	// 发送订阅成功确认
	c.sendMessage(&Message{
		Type:      MessageTypeSubscribed,
		Address:   mailbox.Address,
		Timestamp: time.Now(),
	})
}

// unsubscribeAddress 取消订阅地址
func (c *Client) unsubscribeAddress(address string) {
	c.mu.Lock()
	delete(c.addresses, address)
	c.mu.Unlock()

	c.hub.mu.Lock()
	if clients, exists := c.hub.addresses[address]; exists {
		delete(clients, c.ID)
		if len(clients) == 0 {
			delete(c.hub.addresses, address)
		}
	}
	c.hub.mu.Unlock()

	c.log.Info("unsubscribed from address",
		zap.String("clientID", c.ID),
		zap.String("address", address))
}

// sendError 发送错误消息给客户端
func (c *Client) sendError(errMsg string) {
	msg := &Message{
		Type:      MessageTypeError,
		Error:     errMsg,
		Timestamp: time.Now(),
	}
	c.sendMessage(msg)
}

// sendMessage 发送消息给客户端
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	select {
	case c.send <- data:
	default:
		c.log.Warn("client channel blocked", zap.String("clientID", c.ID))
	}
}
