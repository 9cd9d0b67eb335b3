package websocket

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/KlutzyFella/Papyrus/internal/chat"
	"github.com/KlutzyFella/Papyrus/internal/logger"
	"github.com/KlutzyFella/Papyrus/internal/middleware"
	"github.com/KlutzyFella/Papyrus/pkg/response"
	"github.com/KlutzyFella/Papyrus/pkg/util"
)

// HandlerConfig WebSocket Handler 配置
type HandlerConfig struct {
	Deps           chat.Deps
	Limiter        *middleware.LimiterPool
	AllowedOrigins []string // 为空时不检查 Origin
	MaxDocument    int64    // 文档大小上限，决定单条消息的读取上限
	Logger         *logger.Logger
}

// Handler 处理聊天 WebSocket 连接
type Handler struct {
	hub       *Hub
	cfg       HandlerConfig
	upgrader  websocket.Upgrader
	readLimit int64
	log       *logger.Logger
}

// NewHandler 创建 WebSocket Handler
func NewHandler(hub *Hub, cfg HandlerConfig) *Handler {
	h := &Handler{
		hub: hub,
		cfg: cfg,
		log: cfg.Logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	// base64 膨胀约 4/3，另留 64KB 给 JSON 外壳
	h.readLimit = defaultMaxMessageSize
	if cfg.MaxDocument > 0 {
		if n := cfg.MaxDocument/3*4 + 64<<10; n > h.readLimit {
			h.readLimit = n
		}
	}
	return h
}

// checkOrigin 只允许配置中的来源，没有 Origin 头的非浏览器客户端放行
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin || allowed == u.Scheme+"://"+u.Host {
			return true
		}
	}
	return false
}

// HandleChatWS 处理聊天 WebSocket 连接
// 路由: GET /ws/chat，需要经过认证中间件
// 连接建立后立即加载对话记录并推送 view:snapshot
func (h *Handler) HandleChatWS(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if userID == 0 {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "user_id", userID, "error", err)
		return
	}

	client := NewClient(h.hub, conn, ClientOptions{
		ID:        util.GenerateUUID(),
		UserID:    userID,
		Deps:      h.cfg.Deps,
		Limiter:   h.cfg.Limiter,
		ReadLimit: h.readLimit,
		Logger:    h.log,
	})
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
	go client.run("", func() error { return client.orch.Load(client.ctx) })
}

// RegisterRoutes 注册 WebSocket 路由
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws/chat", h.HandleChatWS)
}
