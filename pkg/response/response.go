// Package response 提供统一的 HTTP 响应格式
// 成功时直接返回业务数据，失败时返回 {"error": "...", "code": 业务码}
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorBody 错误响应结构
// error: 提示信息，前端直接展示
// code: 业务状态码，便于前端区分错误类型
type ErrorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// 业务状态码定义
const (
	CodeBadRequest        = 1000 // 请求参数错误
	CodeUnauthorized      = 1001 // 未授权
	CodeTooManyRequests   = 1002 // 请求过于频繁
	CodeInternalError     = 1004 // 服务器内部错误
	CodeUserExists        = 1101 // 邮箱已注册
	CodeBadCredentials    = 1102 // 邮箱或密码错误
	CodeUserDisabled      = 1103 // 账号已禁用
	CodeInvalidMessage    = 2001 // 消息角色或内容无效
	CodeUnsupportedFormat = 3001 // 不是 PDF
	CodeExtractionFailed  = 3002 // 文档解析失败
	CodeFileTooLarge      = 3003 // 文件超过大小限制
	CodePersistenceFailed = 4001 // 消息写入或读取失败
)

// OK 返回 200 和业务数据
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Success 返回 {"success": true}
func Success(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Created 返回 201 和业务数据
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, data)
}

// ErrorWithCode 返回错误响应（带业务状态码）
// 参数:
//   - c: Gin 上下文
//   - httpCode: HTTP 状态码
//   - bizCode: 业务状态码
//   - message: 错误信息
func ErrorWithCode(c *gin.Context, httpCode, bizCode int, message string) {
	c.JSON(httpCode, ErrorBody{
		Error: message,
		Code:  bizCode,
	})
}

// AbortWithCode 与 ErrorWithCode 相同，并终止后续中间件和 Handler
func AbortWithCode(c *gin.Context, httpCode, bizCode int, message string) {
	c.AbortWithStatusJSON(httpCode, ErrorBody{
		Error: message,
		Code:  bizCode,
	})
}

// BadRequest 返回 400 错误（请求参数错误）
func BadRequest(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusBadRequest, CodeBadRequest, message)
}

// Unauthorized 返回 401 错误（未授权）
func Unauthorized(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

// TooManyRequests 返回 429 错误
func TooManyRequests(c *gin.Context) {
	AbortWithCode(c, http.StatusTooManyRequests, CodeTooManyRequests, "Too many requests")
}

// InternalError 返回 500 错误（服务器内部错误）
func InternalError(c *gin.Context, message string) {
	ErrorWithCode(c, http.StatusInternalServerError, CodeInternalError, message)
}

// NoContent 返回 204 无内容响应
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
