package service

import (
	"context"

	"github.com/KlutzyFella/Papyrus/internal/model"
	"github.com/KlutzyFella/Papyrus/internal/repository"
	"github.com/KlutzyFella/Papyrus/pkg/util"
)

// UserService 用户服务
// 处理用户信息的查询和密码修改
type UserService struct {
	userRepo *repository.UserRepository // 用户数据访问层
}

// NewUserService 创建 UserService 实例
func NewUserService(userRepo *repository.UserRepository) *UserService {
	return &UserService{
		userRepo: userRepo,
	}
}

// GetProfile 获取用户资料
// 参数:
//   - ctx: 上下文
//   - userID: 用户ID
//
// 返回:
//   - *model.User: 用户信息
//   - error: 用户不存在返回 ErrUserNotFound
func (s *UserService) GetProfile(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// ChangePasswordRequest 修改密码请求
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6,max=72"`
}

// ChangePassword 修改密码
// 旧密码错误返回 ErrBadCredentials
func (s *UserService) ChangePassword(ctx context.Context, userID int64, req *ChangePasswordRequest) error {
	// 1. 获取用户信息
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrUserNotFound
	}

	// 2. 验证旧密码
	if !util.CheckPassword(req.OldPassword, user.PasswordHash) {
		return ErrBadCredentials
	}

	// 3. 对新密码进行哈希并更新
	newHash, err := util.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	return s.userRepo.UpdateFields(ctx, userID, map[string]interface{}{
		"password_hash": newHash,
	})
}
