// Package service 提供业务逻辑层的实现
// 服务层封装具体的业务逻辑，协调 Repository 和 Cache
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/KlutzyFella/Papyrus/internal/cache"
	"github.com/KlutzyFella/Papyrus/internal/logger"
	"github.com/KlutzyFella/Papyrus/internal/model"
	"github.com/KlutzyFella/Papyrus/internal/observability"
)

// 消息服务相关错误
var (
	ErrInvalidMessage    = errors.New("invalid message")            // 角色不合法或内容为空
	ErrPersistenceFailed = errors.New("message persistence failed") // 存储读写失败
)

// MaxAttachmentName 与 messages.attachment_name 列宽一致
const MaxAttachmentName = 255

// MessageStore 消息存储接口
// 由 repository.MessageRepository 实现
type MessageStore interface {
	Append(ctx context.Context, message *model.Message) error
	ListByOwner(ctx context.Context, ownerID int64) ([]model.Message, error)
}

// AppendNotifier 消息追加通知接口
// 由 cache.RedisCache 实现，为 nil 时不广播
type AppendNotifier interface {
	PublishMessageAppended(ctx context.Context, event cache.MessageAppended) error
}

type originKey struct{}

// WithOrigin 在上下文中记录写入方的连接ID
// 广播事件携带该ID，同一连接收到自己的事件时可以忽略
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

func originFrom(ctx context.Context) string {
	origin, _ := ctx.Value(originKey{}).(string)
	return origin
}

// MessageService 消息记录服务
// 每个用户一条只追加的对话记录
type MessageService struct {
	store    MessageStore
	notifier AppendNotifier
	log      *logger.Logger
}

// NewMessageService 创建 MessageService 实例
func NewMessageService(store MessageStore, notifier AppendNotifier, log *logger.Logger) *MessageService {
	return &MessageService{
		store:    store,
		notifier: notifier,
		log:      log,
	}
}

// Append 追加一条消息
// 参数:
//   - ctx: 上下文
//   - ownerID: 已验证会话中的用户ID
//   - role: user / assistant
//   - text: 消息内容，不能为空白
//   - attachmentName: 附带文档名，可为 nil
//
// 返回:
//   - *model.Message: 已写入的消息（含 ID、Seq、CreatedAt）
//   - error: ErrInvalidMessage 或 ErrPersistenceFailed
func (s *MessageService) Append(ctx context.Context, ownerID int64, role, text string, attachmentName *string) (*model.Message, error) {
	if ownerID <= 0 || !model.ValidMessageRole(role) || strings.TrimSpace(text) == "" {
		return nil, ErrInvalidMessage
	}
	if attachmentName != nil {
		if *attachmentName == "" {
			attachmentName = nil
		} else if utf8.RuneCountInString(*attachmentName) > MaxAttachmentName {
			return nil, ErrInvalidMessage
		}
	}

	message := &model.Message{
		OwnerID:        ownerID,
		Role:           role,
		Text:           text,
		AttachmentName: attachmentName,
	}
	if err := s.store.Append(ctx, message); err != nil {
		observability.Current().IncAppend(role, "error")
		s.log.Error("append message failed", "user_id", ownerID, "role", role, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	observability.Current().IncAppend(role, "ok")

	s.publish(ctx, message)
	return message, nil
}

// publish 广播追加事件，失败只记录日志
func (s *MessageService) publish(ctx context.Context, message *model.Message) {
	if s.notifier == nil {
		return
	}
	event := cache.MessageAppended{
		OwnerID:   message.OwnerID,
		MessageID: message.ID,
		Seq:       message.Seq,
		Role:      message.Role,
		Origin:    originFrom(ctx),
		Timestamp: message.CreatedAt,
	}
	go func() {
		pubCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.notifier.PublishMessageAppended(pubCtx, event); err != nil {
			s.log.Warn("publish message appended failed", "user_id", event.OwnerID, "error", err)
		}
	}()
}

// ListOrdered 获取用户的完整对话记录
// 按 (created_at, seq) 正序，新用户返回空切片
func (s *MessageService) ListOrdered(ctx context.Context, ownerID int64) ([]model.Message, error) {
	messages, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		s.log.Error("list messages failed", "user_id", ownerID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	if messages == nil {
		messages = []model.Message{}
	}
	return messages, nil
}
