// Package repository 提供数据访问层的实现
// 封装所有与数据库的交互操作
package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/KlutzyFella/Papyrus/internal/model"
)

// UserRepository 用户数据访问层
// 负责用户相关的所有数据库操作
type UserRepository struct {
	db *gorm.DB // GORM 数据库连接实例
}

// NewUserRepository 创建 UserRepository 实例
// 参数:
//   - db: GORM 数据库连接
//
// 返回:
//   - *UserRepository: 用户仓库实例
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create 创建新用户
// 参数:
//   - ctx: 上下文，用于控制请求生命周期
//   - user: 用户对象，ID 字段会被自动填充
//
// 返回:
//   - error: 如果邮箱重复，会返回错误
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// GetByID 根据 ID 获取用户
// 返回:
//   - *model.User: 用户对象，如果未找到返回 nil
//   - error: 数据库错误（不包括记录未找到）
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).First(&user, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil // 未找到返回 nil，不当作错误
		}
		return nil, err
	}
	return &user, nil
}

// GetByEmail 根据邮箱获取用户
// 用于登录验证
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// UpdateFields 更新用户的指定字段
// 参数:
//   - ctx: 上下文
//   - id: 用户ID
//   - fields: 要更新的字段映射，如 {"password_hash": "..."}
func (r *UserRepository) UpdateFields(ctx context.Context, id int64, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(fields).Error
}

// ExistsByEmail 检查邮箱是否已存在
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.User{}).Where("email = ?", email).Count(&count).Error
	return count > 0, err
}
