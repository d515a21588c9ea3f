// Package notify 将同步事件推送给在线用户。
//
// 每个用户一个房间，同一用户的多个 WebSocket 连接都会收到事件。
// 配置了 Bus 时事件先发布到总线，各实例收到后再投递给本地连接。
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// 事件名
const (
	EventSyncProgress        = "sync-progress"
	EventSyncSuccess         = "sync-success"
	EventSyncFail            = "sync-fail"
	EventSyncFailGeneral     = "sync-fail-general"
	EventSyncSuccessHistory  = "sync-success-history"
	EventSyncFailHistory     = "sync-fail-history"
	EventSyncProgressHistory = "sync-progress-history"
	EventNotificationNew     = "notification-new"
	EventNotificationDelete  = "notification-delete"
)

// busChannel 多实例共享的事件频道
const busChannel = "graderoom:events"

const (
	sendBuffer   = 32
	writeTimeout = 5 * time.Second
)

// Message 推送给客户端的消息
type Message struct {
	Username  string          `json:"username,omitempty"`
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Emitter 事件发送方（服务层依赖此接口）
type Emitter interface {
	Emit(username, event string, data any)
}

// Bus 跨实例事件总线，由 pkg/redis.Client 实现
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler func([]byte)) error
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub 按用户分组的 WebSocket 连接集合
type Hub struct {
	bus     Bus
	origins []string
	rooms   map[string]map[*client]struct{}
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewHub 创建 Hub；bus 为 nil 时仅投递本实例连接
func NewHub(bus Bus, originPatterns []string, logger *zap.Logger) *Hub {
	return &Hub{
		bus:     bus,
		origins: originPatterns,
		rooms:   make(map[string]map[*client]struct{}),
		logger:  logger.Named("notify"),
	}
}

// Run 订阅总线直到 ctx 结束；未配置总线时立即返回
func (h *Hub) Run(ctx context.Context) error {
	if h.bus == nil {
		return nil
	}
	return h.bus.Subscribe(ctx, busChannel, func(payload []byte) {
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.logger.Warn("丢弃无法解析的总线消息", zap.Error(err))
			return
		}
		h.Deliver(msg)
	})
}

// Emit 发送事件；总线发布失败时退回本地投递
func (h *Hub) Emit(username, event string, data any) {
	msg := Message{Username: username, Event: event, Timestamp: time.Now()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			h.logger.Error("序列化事件失败", zap.String("event", event), zap.Error(err))
			return
		}
		msg.Data = raw
	}

	if h.bus != nil {
		payload, err := json.Marshal(msg)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err = h.bus.Publish(ctx, busChannel, payload)
			cancel()
			if err == nil {
				return
			}
		}
		h.logger.Warn("事件总线发布失败，改为本地投递", zap.String("event", event), zap.Error(err))
	}
	h.Deliver(msg)
}

// Deliver 投递给本实例上该用户的所有连接
func (h *Hub) Deliver(msg Message) {
	username := msg.Username
	msg.Username = ""
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.rooms[username]))
	for c := range h.rooms[username] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("客户端发送队列已满，丢弃消息",
				zap.String("username", username),
				zap.String("event", msg.Event),
			)
		}
	}
}

// ServeWS 升级为 WebSocket 并加入用户房间，阻塞到连接断开
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, username string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn("WebSocket 升级失败", zap.String("username", username), zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.add(username, c)
	defer h.remove(username, c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.writeLoop(ctx, cancel, c)

	// 客户端不发送业务消息，读循环仅用于感知断开
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// ClientCount 某用户在本实例上的连接数
func (h *Hub) ClientCount(username string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[username])
}

// Close 断开所有连接
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for username, room := range h.rooms {
		for c := range room {
			_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		}
		delete(h.rooms, username)
	}
}

func (h *Hub) writeLoop(ctx context.Context, cancel context.CancelFunc, c *client) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) add(username string, c *client) {
	h.mu.Lock()
	room, ok := h.rooms[username]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[username] = room
	}
	room[c] = struct{}{}
	count := len(room)
	h.mu.Unlock()
	h.logger.Debug("客户端已连接", zap.String("username", username), zap.Int("connections", count))
}

func (h *Hub) remove(username string, c *client) {
	h.mu.Lock()
	if room, ok := h.rooms[username]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, username)
		}
	}
	h.mu.Unlock()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Debug("客户端已断开", zap.String("username", username))
}
