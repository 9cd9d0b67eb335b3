package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KlutzyFella/Papyrus/internal/middleware"
	"github.com/KlutzyFella/Papyrus/internal/service"
	"github.com/KlutzyFella/Papyrus/pkg/response"
)

// UserHandler 用户请求处理器
type UserHandler struct {
	userService *service.UserService
}

// NewUserHandler 创建 UserHandler 实例
func NewUserHandler(userService *service.UserService) *UserHandler {
	return &UserHandler{
		userService: userService,
	}
}

// GetProfile 获取当前用户资料
// GET /users/me
func (h *UserHandler) GetProfile(c *gin.Context) {
	user, err := h.userService.GetProfile(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			response.Unauthorized(c, "User not found")
			return
		}
		response.InternalError(c, "Failed to load profile")
		return
	}

	response.OK(c, user)
}

// ChangePassword 修改密码
// PUT /users/me/password {old_password, new_password}
func (h *UserHandler) ChangePassword(c *gin.Context) {
	var req service.ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request: "+err.Error())
		return
	}

	err := h.userService.ChangePassword(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBadCredentials):
			response.ErrorWithCode(c, http.StatusBadRequest, response.CodeBadCredentials, "Old password is incorrect")
		case errors.Is(err, service.ErrUserNotFound):
			response.Unauthorized(c, "User not found")
		default:
			response.InternalError(c, "Failed to change password")
		}
		return
	}

	response.Success(c)
}
