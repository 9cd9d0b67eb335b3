package websocket

import (
	"context"
	"sync"

	"github.com/KlutzyFella/Papyrus/internal/cache"
	"github.com/KlutzyFella/Papyrus/internal/logger"
	"github.com/KlutzyFella/Papyrus/internal/observability"
)

// MessageSubscriber 订阅用户的消息追加事件
// 由 cache.RedisCache 实现，ctx 结束后返回的通道被关闭
type MessageSubscriber interface {
	SubscribeMessages(ctx context.Context, ownerID int64) <-chan cache.MessageAppended
}

// Hub 是 WebSocket 连接的中心管理器
// 负责：
// 1. 管理所有客户端连接
// 2. 每个在线用户维持一个追加事件订阅，转发给该用户的其它连接
type Hub struct {
	// 客户端映射：userID -> []*Client
	// 一个用户可能同时打开多个页面或设备
	clients map[int64][]*Client

	// 订阅映射：userID -> 取消函数
	subs map[int64]context.CancelFunc

	register   chan *Client
	unregister chan *Client

	// done 在 Run 退出后关闭
	done chan struct{}

	mu sync.RWMutex

	subscriber MessageSubscriber
	baseCtx    context.Context
	cancel     context.CancelFunc
	log        *logger.Logger
}

// NewHub 创建 Hub 实例
// 参数:
//   - subscriber: 追加事件订阅，为 nil 时不做跨连接通知
//   - log: 日志
func NewHub(subscriber MessageSubscriber, log *logger.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[int64][]*Client),
		subs:       make(map[int64]context.CancelFunc),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		subscriber: subscriber,
		baseCtx:    ctx,
		cancel:     cancel,
		log:        log.With("component", "ws_hub"),
	}
}

// Run 启动 Hub 的主循环
// ctx 结束时关闭所有连接和订阅后返回
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ctx.Done():
			return
		}
	}
}

// Register 注册客户端，Hub 已停止时直接关闭客户端
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// registerClient 注册客户端
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.userID] = append(h.clients[client.userID], client)
	observability.Current().ChatSessionOpened()

	// 用户的第一个连接负责建立订阅
	if _, ok := h.subs[client.userID]; !ok && h.subscriber != nil {
		ctx, cancel := context.WithCancel(h.baseCtx)
		h.subs[client.userID] = cancel
		go h.forward(ctx, client.userID)
	}

	h.log.Info("chat client registered", "user_id", client.userID, "conn_id", client.id, "user_conns", len(h.clients[client.userID]))
}

// unregisterClient 注销客户端
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	list := h.clients[client.userID]
	found := false
	for i, c := range list {
		if c == client {
			list = append(list[:i], list[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return
	}
	observability.Current().ChatSessionClosed()
	client.Close()

	if len(list) == 0 {
		delete(h.clients, client.userID)
		if cancel, ok := h.subs[client.userID]; ok {
			cancel()
			delete(h.subs, client.userID)
		}
	} else {
		h.clients[client.userID] = list
	}

	h.log.Info("chat client unregistered", "user_id", client.userID, "conn_id", client.id)
}

// forward 把追加事件转发给用户的所有连接，写入方自己除外
// 订阅在 ctx 结束（用户最后一个连接断开）时关闭
func (h *Hub) forward(ctx context.Context, userID int64) {
	for event := range h.subscriber.SubscribeMessages(ctx, userID) {
		msg := NewMessage(TypeLogAppended, &LogAppendedPayload{
			MessageID: event.MessageID,
			Seq:       event.Seq,
			Role:      event.Role,
			Timestamp: event.Timestamp,
		})
		for _, c := range h.userClients(userID) {
			if c.id == event.Origin {
				continue
			}
			c.SendMessage(msg)
		}
	}
}

// userClients 返回用户当前连接的副本
func (h *Hub) userClients(userID int64) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	list := h.clients[userID]
	out := make([]*Client, len(list))
	copy(out, list)
	return out
}

// ConnectionCount 当前连接数
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, list := range h.clients {
		n += len(list)
	}
	return n
}

// shutdown 关闭所有连接和订阅
func (h *Hub) shutdown() {
	close(h.done)
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, list := range h.clients {
		for _, c := range list {
			c.Close()
			observability.Current().ChatSessionClosed()
		}
		delete(h.clients, userID)
	}
	h.subs = make(map[int64]context.CancelFunc)
	h.log.Info("chat hub stopped")
}
