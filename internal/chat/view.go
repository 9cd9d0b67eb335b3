package chat

import (
	"time"

	"github.com/KlutzyFella/Papyrus/internal/model"
)

// State 对话状态
type State string

const (
	StateIdle               State = "idle"
	StateSending            State = "sending"             // 正在写入用户消息
	StateAwaitingCompletion State = "awaiting_completion" // 等待大模型回复
	StatePersisting         State = "persisting"          // 正在写入助手回复
	StateExtracting         State = "extracting"          // 正在解析上传的文档
)

// EntryStatus 视图条目状态
type EntryStatus string

const (
	StatusPending     EntryStatus = "pending"     // 已显示，尚未写入
	StatusPersisted   EntryStatus = "persisted"   // 已写入消息记录
	StatusUnsent      EntryStatus = "unsent"      // 用户消息写入失败，没有调用大模型
	StatusUnpersisted EntryStatus = "unpersisted" // 回复已显示但写入失败，刷新后会消失
	StatusLocal       EntryStatus = "local"       // 本地提示，从不写入
)

// Entry 视图中的一条消息
// 视图与消息记录不同：可以包含失败的消息和本地提示
type Entry struct {
	Key            string      `json:"key"`          // 视图内唯一
	ID             int64       `json:"id,omitempty"` // 写入后的消息ID
	Role           string      `json:"role"`
	Text           string      `json:"text"`
	AttachmentName *string     `json:"attachment_name,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
	Status         EntryStatus `json:"status"`
}

// DocumentContext 当前连接的文档上下文
// 只存在于内存中，连接结束即丢失
type DocumentContext struct {
	Name string
	Text string
}

// Active 是否有已加载的文档
func (d DocumentContext) Active() bool {
	return d.Name != ""
}

// DocumentInfo 发给客户端的文档状态，不包含全文
type DocumentInfo struct {
	Name  string `json:"name"`
	Chars int    `json:"chars"`
}

func (d DocumentContext) info() *DocumentInfo {
	if !d.Active() {
		return nil
	}
	return &DocumentInfo{Name: d.Name, Chars: len([]rune(d.Text))}
}

// View 视图快照
type View struct {
	Entries  []Entry       `json:"entries"`
	State    State         `json:"state"`
	Busy     bool          `json:"busy"`
	Document *DocumentInfo `json:"document,omitempty"`
}

// EventType 事件类型
type EventType string

const (
	EventSnapshot EventType = "snapshot" // 视图整体替换
	EventEntry    EventType = "entry"    // 新增或更新一条
	EventState    EventType = "state"    // 状态变化
	EventDocument EventType = "document" // 文档上下文变化
)

// Event 视图变化事件
type Event struct {
	Type     EventType
	Entry    *Entry
	State    State
	Busy     bool
	Document *DocumentInfo
	View     *View
}

// Listener 接收视图变化
// 调用方不能在回调中阻塞，也不能回调 Orchestrator
type Listener func(Event)

func entryFromMessage(m model.Message) Entry {
	return Entry{
		Key:            messageKey(m.ID),
		ID:             m.ID,
		Role:           m.Role,
		Text:           m.Text,
		AttachmentName: m.AttachmentName,
		Timestamp:      m.CreatedAt,
		Status:         StatusPersisted,
	}
}
