// Package middleware 提供 HTTP 请求的中间件
// 包括 JWT 认证、CORS 跨域、日志记录、限流和链路追踪
package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/KlutzyFella/Papyrus/internal/service"
	"github.com/KlutzyFella/Papyrus/pkg/jwt"
	"github.com/KlutzyFella/Papyrus/pkg/response"
)

// 上下文中的键
const (
	ctxUserID   = "user_id"
	ctxEmail    = "email"
	ctxToken    = "token"
	ctxTokenExp = "token_exp"
)

// Authenticator 从请求中解析已登录用户
// Token 依次从 Authorization 头、Cookie、token 查询参数读取
// 浏览器的 WebSocket 握手无法设置请求头，只能使用后两种
type Authenticator struct {
	jwtService *jwt.JWTService
	blacklist  service.TokenBlacklist
	cookieName string
}

// NewAuthenticator 创建 Authenticator
// 参数:
//   - jwtService: JWT 服务实例，用于解析和验证 Token
//   - blacklist: Token 黑名单，为 nil 时不检查
//   - cookieName: 携带 Token 的 Cookie 名
func NewAuthenticator(jwtService *jwt.JWTService, blacklist service.TokenBlacklist, cookieName string) *Authenticator {
	return &Authenticator{
		jwtService: jwtService,
		blacklist:  blacklist,
		cookieName: cookieName,
	}
}

// tokenFrom 读取请求携带的 Token
// 返回:
//   - string: Token，未携带时为空
//   - bool: Authorization 头格式是否正确
func (a *Authenticator) tokenFrom(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if a.cookieName != "" {
		if cookie, err := c.Cookie(a.cookieName); err == nil && cookie != "" {
			return cookie, true
		}
	}
	return c.Query("token"), true
}

// authenticate 验证 Token 并写入上下文
func (a *Authenticator) authenticate(c *gin.Context, tokenString string) (string, bool) {
	claims, err := a.jwtService.ValidateToken(tokenString)
	if err != nil {
		return "Token is invalid or expired", false
	}

	// 用户登出后 Token 会被加入黑名单
	if a.blacklist != nil && a.blacklist.IsTokenBlacklisted(c.Request.Context(), jwt.HashToken(tokenString)) {
		return "Token has been revoked", false
	}

	c.Set(ctxUserID, claims.UserID)
	c.Set(ctxEmail, claims.Email)
	c.Set(ctxToken, tokenString)
	c.Set(ctxTokenExp, claims.ExpiresAt.Time)
	return "", true
}

// Required 创建强制认证中间件
// 未认证的请求返回 401 {"error": "...", "code": 1001}
func (a *Authenticator) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := a.tokenFrom(c)
		if !ok {
			response.AbortWithCode(c, http.StatusUnauthorized, response.CodeUnauthorized, "Malformed Authorization header")
			return
		}
		if tokenString == "" {
			response.AbortWithCode(c, http.StatusUnauthorized, response.CodeUnauthorized, "Not authenticated")
			return
		}
		if msg, ok := a.authenticate(c, tokenString); !ok {
			response.AbortWithCode(c, http.StatusUnauthorized, response.CodeUnauthorized, msg)
			return
		}
		c.Next()
	}
}

// Optional 创建可选认证中间件
// 提供了有效 Token 时写入用户信息，否则匿名继续
func (a *Authenticator) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString, ok := a.tokenFrom(c); ok && tokenString != "" {
			a.authenticate(c, tokenString)
		}
		c.Next()
	}
}

// GetUserID 从上下文获取用户 ID
// 返回:
//   - int64: 用户 ID，如果未认证返回 0
func GetUserID(c *gin.Context) int64 {
	userID, exists := c.Get(ctxUserID)
	if !exists {
		return 0
	}
	id, _ := userID.(int64)
	return id
}

// GetEmail 从上下文获取邮箱
func GetEmail(c *gin.Context) string {
	return c.GetString(ctxEmail)
}

// GetToken 从上下文获取原始 Token，用于登出时计算哈希
func GetToken(c *gin.Context) string {
	return c.GetString(ctxToken)
}

// GetTokenExpire 从上下文获取 Token 过期时间，用于设置黑名单 TTL
func GetTokenExpire(c *gin.Context) (t time.Time) {
	if v, ok := c.Get(ctxTokenExp); ok {
		t, _ = v.(time.Time)
	}
	return t
}
