package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KlutzyFella/Papyrus/internal/middleware"
	"github.com/KlutzyFella/Papyrus/internal/service"
	"github.com/KlutzyFella/Papyrus/pkg/response"
	"github.com/KlutzyFella/Papyrus/pkg/util"
)

// MessageHandler 消息记录请求处理器
// 用户只能读写自己的记录，用户ID来自认证中间件
type MessageHandler struct {
	messageService *service.MessageService
}

// NewMessageHandler 创建 MessageHandler 实例
func NewMessageHandler(messageService *service.MessageService) *MessageHandler {
	return &MessageHandler{
		messageService: messageService,
	}
}

// ListMessages 获取完整对话记录
// GET /messages
// 返回按时间正序排列的数组 [{id, seq, role, text, timestamp, attachment_name?}]
func (h *MessageHandler) ListMessages(c *gin.Context) {
	messages, err := h.messageService.ListOrdered(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		response.ErrorWithCode(c, http.StatusInternalServerError, response.CodePersistenceFailed, "Failed to fetch messages")
		return
	}
	response.OK(c, messages)
}

// AppendMessageRequest 追加消息请求
// 时间戳和用户ID由服务端决定，请求中即使携带也会被忽略
type AppendMessageRequest struct {
	Role    string `json:"role"`
	Text    string `json:"text"`
	PDFName string `json:"pdfName"`
}

// AppendMessage 追加一条消息
// POST /messages {role, text, pdfName?}
func (h *MessageHandler) AppendMessage(c *gin.Context) {
	var req AppendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request body")
		return
	}

	_, err := h.messageService.Append(
		c.Request.Context(),
		middleware.GetUserID(c),
		req.Role,
		req.Text,
		util.StringPtr(req.PDFName),
	)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidMessage):
			response.ErrorWithCode(c, http.StatusBadRequest, response.CodeInvalidMessage, "Invalid role or empty text")
		default:
			response.ErrorWithCode(c, http.StatusInternalServerError, response.CodePersistenceFailed, "Failed to save message")
		}
		return
	}

	response.Success(c)
}
