// Package jwt 提供 JWT Token 的生成和验证功能
// Access Token 即 SessionGate 所认可的会话凭证
package jwt

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// 定义错误类型
var (
	ErrInvalidToken = errors.New("invalid token")     // Token 无效
	ErrExpiredToken = errors.New("token has expired") // Token 已过期
)

const (
	issuer         = "papyrus"
	subjectAccess  = "access"
	subjectRefresh = "refresh"
)

// UserClaims 用户 JWT 的声明（Payload）
type UserClaims struct {
	UserID int64  `json:"user_id"` // 用户 ID
	Email  string `json:"email"`   // 登录邮箱
	jwt.RegisteredClaims
}

// JWTService 提供 JWT 相关操作
type JWTService struct {
	secret        []byte        // JWT 签名密钥
	accessExpire  time.Duration // Access Token 过期时间
	refreshExpire time.Duration // Refresh Token 过期时间
}

// NewJWTService 创建 JWTService 实例
// 参数:
//   - secret: JWT 签名密钥，至少 32 个字符
//   - accessExpire: Access Token 过期时间
//   - refreshExpire: Refresh Token 过期时间
func NewJWTService(secret string, accessExpire, refreshExpire time.Duration) *JWTService {
	return &JWTService{
		secret:        []byte(secret),
		accessExpire:  accessExpire,
		refreshExpire: refreshExpire,
	}
}

// GenerateAccessToken 生成 Access Token
func (s *JWTService) GenerateAccessToken(userID int64, email string) (string, error) {
	return s.generate(userID, email, subjectAccess, s.accessExpire)
}

// GenerateRefreshToken 生成 Refresh Token
// 只能用于 /auth/refresh，不能访问业务接口
func (s *JWTService) GenerateRefreshToken(userID int64, email string) (string, error) {
	return s.generate(userID, email, subjectRefresh, s.refreshExpire)
}

func (s *JWTService) generate(userID int64, email, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := UserClaims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(), // 同一秒内签发的 Token 也互不相同
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   subject,
		},
	}

	// HMAC SHA256 签名
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken 验证 Access Token
// 参数:
//   - tokenString: JWT Token 字符串
//
// 返回:
//   - *UserClaims: Token 中的声明信息
//   - error: ErrInvalidToken 或 ErrExpiredToken
func (s *JWTService) ValidateToken(tokenString string) (*UserClaims, error) {
	return s.validate(tokenString, subjectAccess)
}

// ValidateRefreshToken 验证 Refresh Token
func (s *JWTService) ValidateRefreshToken(tokenString string) (*UserClaims, error) {
	return s.validate(tokenString, subjectRefresh)
}

func (s *JWTService) validate(tokenString, subject string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		// 确保使用的是我们期望的算法（HMAC）
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid || claims.Subject != subject || claims.UserID <= 0 {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// GetAccessExpire 获取 Access Token 过期时间
func (s *JWTService) GetAccessExpire() time.Duration {
	return s.accessExpire
}

// GetRefreshExpire 获取 Refresh Token 过期时间
func (s *JWTService) GetRefreshExpire() time.Duration {
	return s.refreshExpire
}

// HashToken 计算 Token 的 SHA256，用作黑名单的 Key
func HashToken(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return hex.EncodeToString(sum[:])
}
