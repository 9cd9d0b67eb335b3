// Package handler 提供 HTTP 请求处理器
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KlutzyFella/Papyrus/internal/middleware"
	"github.com/KlutzyFella/Papyrus/internal/service"
	"github.com/KlutzyFella/Papyrus/pkg/jwt"
	"github.com/KlutzyFella/Papyrus/pkg/response"
)

// CookieConfig 登录 Cookie 配置
type CookieConfig struct {
	Name   string // Cookie 名
	Secure bool   // 是否仅 HTTPS
}

// AuthHandler 认证请求处理器
// 处理用户注册、登录、刷新和登出
type AuthHandler struct {
	authService *service.AuthService
	cookie      CookieConfig
}

// NewAuthHandler 创建 AuthHandler 实例
func NewAuthHandler(authService *service.AuthService, cookie CookieConfig) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		cookie:      cookie,
	}
}

// Register 用户注册
// POST /auth/register {email, password}
func (h *AuthHandler) Register(c *gin.Context) {
	var req service.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	user, err := h.authService.Register(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrEmailExists) {
			response.ErrorWithCode(c, http.StatusConflict, response.CodeUserExists, "Email already registered")
			return
		}
		response.InternalError(c, "Registration failed")
		return
	}

	response.Created(c, user)
}

// Login 用户登录
// POST /auth/login {email, password}
// 成功后 Access Token 同时写入 HttpOnly Cookie，浏览器端无需手动携带
func (h *AuthHandler) Login(c *gin.Context) {
	var req service.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	result, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBadCredentials):
			response.ErrorWithCode(c, http.StatusUnauthorized, response.CodeBadCredentials, "Invalid email or password")
		case errors.Is(err, service.ErrUserDisabled):
			response.ErrorWithCode(c, http.StatusForbidden, response.CodeUserDisabled, "Account is disabled")
		default:
			response.InternalError(c, "Login failed")
		}
		return
	}

	h.setCookie(c, result.AccessToken, int(result.ExpiresIn))
	response.OK(c, result)
}

// RefreshTokenRequest 刷新 Token 请求
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RefreshToken 刷新 Token
// POST /auth/refresh {refresh_token}
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request")
		return
	}

	result, err := h.authService.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		response.Unauthorized(c, "Refresh token is invalid or expired")
		return
	}

	h.setCookie(c, result.AccessToken, int(result.ExpiresIn))
	response.OK(c, result)
}

// Logout 用户登出
// 将当前 Token 加入黑名单并清除 Cookie，需要经过认证中间件
func (h *AuthHandler) Logout(c *gin.Context) {
	token := middleware.GetToken(c)
	if token == "" {
		response.Unauthorized(c, "Not authenticated")
		return
	}

	if err := h.authService.Logout(c.Request.Context(), jwt.HashToken(token), middleware.GetTokenExpire(c)); err != nil {
		response.InternalError(c, "Logout failed")
		return
	}

	h.setCookie(c, "", -1)
	response.Success(c)
}

// setCookie 写入或清除登录 Cookie，maxAge < 0 时清除
func (h *AuthHandler) setCookie(c *gin.Context, value string, maxAge int) {
	if h.cookie.Name == "" {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookie.Name, value, maxAge, "/", "", h.cookie.Secure, true)
}
