package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/KlutzyFella/Papyrus/internal/chat"
	"github.com/KlutzyFella/Papyrus/internal/extractor"
	"github.com/KlutzyFella/Papyrus/internal/logger"
	"github.com/KlutzyFella/Papyrus/internal/middleware"
	"github.com/KlutzyFella/Papyrus/internal/service"
)

// 连接配置常量
const (
	// 写超时时间
	writeWait = 10 * time.Second

	// 等待 Pong 响应的超时时间
	pongWait = 60 * time.Second

	// 发送 Ping 的间隔（必须小于 pongWait）
	pingPeriod = (pongWait * 9) / 10

	// 默认消息最大大小（1MB），上传文档时由 Handler 放大
	defaultMaxMessageSize = 1024 * 1024
)

// Client 表示一个聊天连接
// 连接内的操作由 chat.Orchestrator 串行化，读循环本身不阻塞
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	id      string // 连接ID，用于过滤自己产生的追加事件
	userID  int64
	orch    *chat.Orchestrator
	limiter *middleware.LimiterPool
	log     *logger.Logger

	// ctx 用于对话和解析调用，连接断开时不取消，结果由 Orchestrator 丢弃
	ctx context.Context

	readLimit int64
	done      chan struct{}
	closeOnce sync.Once
}

// ClientOptions 创建客户端的参数
type ClientOptions struct {
	ID        string
	UserID    int64
	Deps      chat.Deps
	Limiter   *middleware.LimiterPool
	ReadLimit int64
	Logger    *logger.Logger
}

// NewClient 创建新的客户端并绑定编排器
func NewClient(hub *Hub, conn *websocket.Conn, opts ClientOptions) *Client {
	readLimit := opts.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultMaxMessageSize
	}
	c := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 256),
		id:        opts.ID,
		userID:    opts.UserID,
		limiter:   opts.Limiter,
		log:       opts.Logger.With("user_id", opts.UserID, "conn_id", opts.ID),
		ctx:       service.WithOrigin(context.Background(), opts.ID),
		readLimit: readLimit,
		done:      make(chan struct{}),
	}
	c.orch = chat.New(opts.Deps, opts.UserID, c.onEvent)
	return c
}

// ReadPump 读取 WebSocket 消息的 goroutine
// 退出时注销客户端并关闭编排器
func (c *Client) ReadPump() {
	defer func() {
		c.orch.Close()
		c.hub.Unregister(c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", "error", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("", "bad_request", http.StatusBadRequest, "Malformed message")
			continue
		}
		c.handleMessage(&msg)
	}
}

// WritePump 写入 WebSocket 消息的 goroutine
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// SendMessage 向客户端发送消息
// 缓冲区满或连接已关闭时丢弃
func (c *Client) SendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("marshal frame failed", "type", msg.Type, "error", err)
		return
	}

	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.log.Warn("client send buffer full, dropping message", "type", msg.Type)
	}
}

// Close 关闭客户端，可重复调用
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// handleMessage 处理接收到的消息
// 耗时操作在单独的 goroutine 中执行，忙碌时由编排器拒绝
func (c *Client) handleMessage(msg *inbound) {
	switch msg.Type {
	case TypeHeartbeat:
		c.SendMessage(NewReply(TypePong, nil, msg.MessageID))

	case TypeChatSend:
		var p ChatSendPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError(msg.MessageID, "bad_request", http.StatusBadRequest, "Malformed payload")
			return
		}
		if !c.allow(msg.MessageID) {
			return
		}
		go c.run(msg.MessageID, func() error { return c.orch.Submit(c.ctx, p.Text) })

	case TypeDocumentAttach:
		var p DocumentAttachPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.sendError(msg.MessageID, "bad_request", http.StatusBadRequest, "Malformed payload")
			return
		}
		data, err := base64.StdEncoding.DecodeString(p.Data)
		if err != nil {
			c.sendError(msg.MessageID, "bad_request", http.StatusBadRequest, "Document data must be base64")
			return
		}
		if !c.allow(msg.MessageID) {
			return
		}
		go c.run(msg.MessageID, func() error { return c.orch.Attach(c.ctx, p.Name, p.MediaType, data) })

	case TypeDocumentClear:
		c.orch.ClearDocument()

	case TypeHistoryLoad:
		go c.run(msg.MessageID, func() error { return c.orch.Load(c.ctx) })

	default:
		c.sendError(msg.MessageID, "bad_request", http.StatusBadRequest, "Unknown message type: "+msg.Type)
	}
}

// allow 按用户限流对话和上传，超限时回复错误
func (c *Client) allow(messageID string) bool {
	if c.limiter == nil || c.limiter.Allow(middleware.UserKey(c.userID)) {
		return true
	}
	c.sendError(messageID, "rate_limited", http.StatusTooManyRequests, "Too many requests")
	return false
}

// run 执行一个编排器操作，失败时回复 turn:error
func (c *Client) run(messageID string, op func() error) {
	err := op()
	if err == nil || errors.Is(err, chat.ErrClosed) {
		return
	}
	kind, code, message := classify(err)
	c.sendError(messageID, kind, code, message)
}

func (c *Client) sendError(messageID, kind string, code int, message string) {
	c.SendMessage(NewReply(TypeTurnError, &ErrorPayload{
		Kind:    kind,
		Code:    code,
		Message: message,
	}, messageID))
}

// classify 把编排器错误映射为客户端错误类型
func classify(err error) (kind string, code int, message string) {
	switch {
	case errors.Is(err, chat.ErrInvalidTurn):
		return "invalid_turn", http.StatusBadRequest, "Message is empty or a previous request is still in progress"
	case errors.Is(err, extractor.ErrUnsupportedFormat):
		return "unsupported_format", http.StatusBadRequest, "Only PDF files are supported"
	case errors.Is(err, extractor.ErrExtractionFailed):
		return "extraction_failed", http.StatusInternalServerError, "Failed to process PDF"
	case errors.Is(err, chat.ErrPersistenceFailed):
		return "persistence_failed", http.StatusInternalServerError, "Failed to save message"
	case errors.Is(err, chat.ErrCompletionFailed):
		return "completion_failed", http.StatusBadGateway, "The assistant is unavailable"
	default:
		return "internal", http.StatusInternalServerError, "Internal server error"
	}
}

// onEvent 把编排器事件转换为推送消息
func (c *Client) onEvent(e chat.Event) {
	switch e.Type {
	case chat.EventSnapshot:
		c.SendMessage(NewMessage(TypeViewSnapshot, e.View))
	case chat.EventEntry:
		c.SendMessage(NewMessage(TypeViewEntry, e.Entry))
	case chat.EventState:
		c.SendMessage(NewMessage(TypeTurnState, &TurnStatePayload{State: e.State, Busy: e.Busy}))
	case chat.EventDocument:
		c.SendMessage(NewMessage(TypeDocumentState, &DocumentStatePayload{Document: e.Document}))
	}
}
