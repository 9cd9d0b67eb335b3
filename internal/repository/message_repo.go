// Package repository 提供数据访问层的实现
package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/KlutzyFella/Papyrus/internal/model"
)

// MessageRepository 消息数据访问层
// 消息表只追加，不提供更新和删除
type MessageRepository struct {
	db  *gorm.DB
	now func() time.Time // 时钟，测试中可替换
}

// NewMessageRepository 创建 MessageRepository 实例
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db, now: time.Now}
}

// Append 追加一条消息
// 在同一事务内完成：
//  1. 确保用户的计数器行存在
//  2. 计数器自增，得到本条消息的 Seq（UPDATE 会持有行锁，多端并发写入时串行化）
//  3. CreatedAt 取 max(当前时间, 上一条消息时间)，保证同一用户内单调不减
//  4. 写入消息并记录最后写入时间
//
// 参数:
//   - ctx: 上下文
//   - message: 消息对象，ID、Seq、CreatedAt 会被填充
//
// 返回:
//   - error: 数据库错误，返回错误时消息一定没有写入
func (r *MessageRepository) Append(ctx context.Context, message *model.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counter := model.ConversationCounter{
			OwnerID: message.OwnerID,
			LastAt:  time.Unix(0, 0).UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&counter).Error; err != nil {
			return err
		}

		if err := tx.Model(&model.ConversationCounter{}).
			Where("owner_id = ?", message.OwnerID).
			Update("last_seq", gorm.Expr("last_seq + ?", 1)).Error; err != nil {
			return err
		}

		if err := tx.Where("owner_id = ?", message.OwnerID).First(&counter).Error; err != nil {
			return err
		}

		createdAt := r.now().UTC()
		if createdAt.Before(counter.LastAt) {
			createdAt = counter.LastAt
		}
		message.ID = 0
		message.Seq = counter.LastSeq
		message.CreatedAt = createdAt

		if err := tx.Create(message).Error; err != nil {
			return err
		}

		return tx.Model(&model.ConversationCounter{}).
			Where("owner_id = ?", message.OwnerID).
			Update("last_at", createdAt).Error
	})
}

// ListByOwner 获取用户的全部消息
// 按写入时间正序排列，时间相同按 Seq（插入顺序）排列
// 参数:
//   - ctx: 上下文
//   - ownerID: 用户ID
//
// 返回:
//   - []model.Message: 消息列表，新用户返回空切片
//   - error: 数据库错误
func (r *MessageRepository) ListByOwner(ctx context.Context, ownerID int64) ([]model.Message, error) {
	messages := make([]model.Message, 0)
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Order("seq ASC").
		Find(&messages).Error
	return messages, err
}

// CountByOwner 统计用户的消息数量
func (r *MessageRepository) CountByOwner(ctx context.Context, ownerID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Message{}).Where("owner_id = ?", ownerID).Count(&count).Error
	return count, err
}
