// Package model 定义了与数据库表对应的数据结构
package model

import (
	"time"
)

// MessageRole 消息角色常量
const (
	MessageRoleUser      = "user"      // 用户消息
	MessageRoleAssistant = "assistant" // AI 助手响应
)

// ValidMessageRole 判断角色是否允许写入消息记录
func ValidMessageRole(role string) bool {
	return role == MessageRoleUser || role == MessageRoleAssistant
}

// Message 消息模型
// 对应数据库表 messages
// 每个用户一条只追加的对话记录，写入后不再修改
type Message struct {
	// ID 消息唯一标识，自增主键
	ID int64 `gorm:"primaryKey" json:"id"`

	// OwnerID 消息所属用户，来自已验证的会话，永远不取自客户端输入
	OwnerID int64 `gorm:"not null;uniqueIndex:idx_messages_owner_seq,priority:1" json:"-"`

	// Seq 用户维度的单调递增序号，写入事务内分配
	// 同一时间戳的多条消息按 Seq 保持插入顺序
	Seq int64 `gorm:"not null;uniqueIndex:idx_messages_owner_seq,priority:2" json:"seq"`

	// Role 消息角色
	// user: 用户发送的消息
	// assistant: AI 助手的回复
	Role string `gorm:"size:20;not null" json:"role"`

	// Text 消息内容，非空
	Text string `gorm:"type:text;not null" json:"text"`

	// AttachmentName 生成该轮对话时附带的文档文件名，可选
	AttachmentName *string `gorm:"size:255" json:"attachment_name,omitempty"`

	// CreatedAt 写入时间，由存储层分配，同一用户内单调不减
	CreatedAt time.Time `gorm:"not null;index" json:"timestamp"`
}

// TableName 指定表名
func (Message) TableName() string {
	return "messages"
}

// ConversationCounter 用户对话序号计数器
// 对应数据库表 conversation_counters
// 追加消息时在同一事务内自增，保证多端并发写入时的全序
type ConversationCounter struct {
	// OwnerID 用户ID，主键
	OwnerID int64 `gorm:"primaryKey;autoIncrement:false"`

	// LastSeq 最后分配的序号
	LastSeq int64 `gorm:"not null;default:0"`

	// LastAt 最后一条消息的写入时间，用于保证 CreatedAt 单调
	LastAt time.Time
}

// TableName 指定表名
func (ConversationCounter) TableName() string {
	return "conversation_counters"
}
