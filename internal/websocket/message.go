// Package websocket 提供 WebSocket 通信功能
// 每个连接对应一个对话编排器，视图变化实时推送给客户端
package websocket

import (
	"encoding/json"
	"time"

	"github.com/KlutzyFella/Papyrus/internal/chat"
)

// MessageType 消息类型常量
const (
	// 客户端 → 服务端
	TypeChatSend       = "chat:send"       // 发送一轮对话
	TypeDocumentAttach = "document:attach" // 上传文档
	TypeDocumentClear  = "document:clear"  // 清除文档上下文
	TypeHistoryLoad    = "history:load"    // 重新加载对话记录
	TypeHeartbeat      = "heartbeat"       // 心跳

	// 服务端 → 客户端
	TypeViewSnapshot  = "view:snapshot"  // 视图整体替换
	TypeViewEntry     = "view:entry"     // 新增或更新一条
	TypeTurnState     = "turn:state"     // 对话状态变化
	TypeTurnError     = "turn:error"     // 操作失败
	TypeDocumentState = "document:state" // 文档上下文变化
	TypeLogAppended   = "log:appended"   // 同一用户的其它连接写入了消息
	TypePong          = "pong"           // 心跳响应
)

// Message WebSocket 消息结构
// 所有服务端消息都使用这个统一的结构
type Message struct {
	Type      string      `json:"type"`                 // 消息类型
	Payload   interface{} `json:"payload,omitempty"`    // 消息内容
	Timestamp int64       `json:"timestamp"`            // 时间戳（毫秒）
	MessageID string      `json:"message_id,omitempty"` // 消息ID，用于追踪
}

// NewMessage 创建新消息
func NewMessage(msgType string, payload interface{}) *Message {
	return &Message{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewReply 创建对客户端请求的响应，带回请求的消息ID
func NewReply(msgType string, payload interface{}, messageID string) *Message {
	msg := NewMessage(msgType, payload)
	msg.MessageID = messageID
	return msg
}

// inbound 客户端消息，Payload 按类型延迟解析
type inbound struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	MessageID string          `json:"message_id,omitempty"`
}

// ==================== Payload 类型定义 ====================

// ChatSendPayload 发送对话 Payload
type ChatSendPayload struct {
	Text string `json:"text"`
}

// DocumentAttachPayload 上传文档 Payload
// Data 为 base64 编码的文件内容
type DocumentAttachPayload struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// TurnStatePayload 对话状态 Payload
type TurnStatePayload struct {
	State chat.State `json:"state"`
	Busy  bool       `json:"busy"`
}

// DocumentStatePayload 文档状态 Payload
// Document 为 nil 表示没有加载文档
type DocumentStatePayload struct {
	Document *chat.DocumentInfo `json:"document"`
}

// LogAppendedPayload 消息追加通知 Payload
type LogAppendedPayload struct {
	MessageID int64     `json:"message_id"`
	Seq       int64     `json:"seq"`
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload 错误消息 Payload
// Kind 供客户端区分错误类型，Code 与同类 HTTP 接口的状态码一致
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}
