package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/KlutzyFella/Papyrus/internal/model"
	"github.com/KlutzyFella/Papyrus/internal/repository"
	"github.com/KlutzyFella/Papyrus/pkg/jwt"
	"github.com/KlutzyFella/Papyrus/pkg/util"
)

// 认证相关错误
var (
	ErrEmailExists    = errors.New("email already registered")
	ErrUserNotFound   = errors.New("user not found")
	ErrBadCredentials = errors.New("invalid email or password")
	ErrUserDisabled   = errors.New("user is disabled")
)

// TokenBlacklist Token 黑名单
// 由 cache.RedisCache 实现
type TokenBlacklist interface {
	BlacklistToken(ctx context.Context, tokenHash string, expireAt time.Time) error
	IsTokenBlacklisted(ctx context.Context, tokenHash string) bool
}

// AuthService 认证服务
// 处理用户注册、登录、刷新和登出
type AuthService struct {
	userRepo   *repository.UserRepository // 用户数据访问层
	blacklist  TokenBlacklist             // Token 黑名单
	jwtService *jwt.JWTService            // JWT 服务
}

// NewAuthService 创建 AuthService 实例
func NewAuthService(userRepo *repository.UserRepository, blacklist TokenBlacklist, jwtService *jwt.JWTService) *AuthService {
	return &AuthService{
		userRepo:   userRepo,
		blacklist:  blacklist,
		jwtService: jwtService,
	}
}

// RegisterRequest 注册请求
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email,max=100"`
	Password string `json:"password" binding:"required,min=6,max=72"` // bcrypt 只处理前 72 字节
}

// Register 用户注册
// 参数:
//   - ctx: 上下文
//   - req: 注册请求
//
// 返回:
//   - *model.User: 新用户
//   - error: 邮箱已注册返回 ErrEmailExists
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*model.User, error) {
	email := normalizeEmail(req.Email)

	// 1. 检查邮箱是否已存在
	exists, err := s.userRepo.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrEmailExists
	}

	// 2. 对密码进行哈希
	passwordHash, err := util.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	// 3. 创建用户
	user := &model.User{
		Email:        email,
		PasswordHash: passwordHash,
		Status:       model.UserStatusActive,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// LoginRequest 登录请求
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	AccessToken  string      `json:"access_token"`  // 访问令牌
	RefreshToken string      `json:"refresh_token"` // 刷新令牌
	ExpiresIn    int64       `json:"expires_in"`    // 过期时间（秒）
	User         *model.User `json:"user"`          // 用户信息
}

// Login 用户登录
// 用户不存在和密码错误返回同一个错误，避免暴露邮箱是否注册
func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	// 1. 根据邮箱查找用户
	user, err := s.userRepo.GetByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		return nil, err
	}
	if user == nil || !util.CheckPassword(req.Password, user.PasswordHash) {
		return nil, ErrBadCredentials
	}

	// 2. 检查用户状态
	if user.Status != model.UserStatusActive {
		return nil, ErrUserDisabled
	}

	// 3. 生成 Token
	accessToken, err := s.jwtService.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.jwtService.GenerateRefreshToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwtService.GetAccessExpire().Seconds()),
		User:         user,
	}, nil
}

// RefreshTokenResponse 刷新 Token 响应
type RefreshTokenResponse struct {
	AccessToken string `json:"access_token"` // 新的访问令牌
	ExpiresIn   int64  `json:"expires_in"`   // 过期时间（秒）
}

// RefreshToken 刷新 Access Token
// 参数:
//   - ctx: 上下文
//   - refreshToken: Refresh Token
//
// 返回:
//   - *RefreshTokenResponse: 新的 Access Token
//   - error: Token 无效、已登出或用户不可用
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*RefreshTokenResponse, error) {
	// 1. 验证 Refresh Token
	claims, err := s.jwtService.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}
	if s.blacklist != nil && s.blacklist.IsTokenBlacklisted(ctx, jwt.HashToken(refreshToken)) {
		return nil, jwt.ErrInvalidToken
	}

	// 2. 检查用户是否仍然存在且正常
	user, err := s.userRepo.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	if user.Status != model.UserStatusActive {
		return nil, ErrUserDisabled
	}

	// 3. 生成新的 Access Token
	accessToken, err := s.jwtService.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		return nil, err
	}

	return &RefreshTokenResponse{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.jwtService.GetAccessExpire().Seconds()),
	}, nil
}

// Logout 用户登出
// 将 Token 加入黑名单，TTL 为 Token 的剩余有效期
func (s *AuthService) Logout(ctx context.Context, tokenHash string, expireAt time.Time) error {
	if s.blacklist == nil {
		return nil
	}
	return s.blacklist.BlacklistToken(ctx, tokenHash, expireAt)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
