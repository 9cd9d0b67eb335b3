// Package model 定义了与数据库表对应的数据结构
// 这些结构体类似于 Java 中的 Entity 类
package model

import (
	"time"
)

// UserStatus 账号状态
const (
	UserStatusDisabled int8 = 0 // 禁用
	UserStatusActive   int8 = 1 // 正常
)

// User 用户模型
// 对应数据库表 users
// 消息记录的 OwnerID 指向这里的 ID
type User struct {
	// ID 用户唯一标识，自增主键
	ID int64 `gorm:"primaryKey" json:"id"`

	// Email 登录邮箱，全局唯一
	Email string `gorm:"size:100;uniqueIndex;not null" json:"email"`

	// PasswordHash 密码的 bcrypt 哈希值
	// 永远不要存储明文密码！
	PasswordHash string `gorm:"size:255;not null" json:"-"` // json:"-" 表示序列化时忽略此字段

	// Status 账号状态
	// 1: 正常
	// 0: 禁用
	Status int8 `gorm:"default:1" json:"status"`

	// CreatedAt 创建时间，由 GORM 自动填充
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	// UpdatedAt 更新时间，由 GORM 自动更新
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定表名
// GORM 会使用这个方法返回的表名，而不是默认的复数形式
func (User) TableName() string {
	return "users"
}

// AllModels 返回需要自动迁移的全部模型
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Message{},
		&ConversationCounter{},
	}
}
