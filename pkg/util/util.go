// Package util 提供通用工具函数
package util

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// HashPassword 使用 bcrypt 哈希密码
// 参数:
//   - password: 明文密码
//
// 返回:
//   - string: 密码哈希值
//   - error: 哈希错误（密码超过 72 字节时 bcrypt 会报错）
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword 验证密码是否匹配
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// GenerateUUID 生成不含连字符的 UUID v4
// 用作请求ID和 WebSocket 连接ID
func GenerateUUID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// TruncateString 按字符截断字符串，超长时以 "..." 结尾
// 日志中打印用户输入的预览时使用，不会切坏多字节字符
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// StringPtr 返回字符串的指针
// 空字符串返回 nil，用于可选字段的赋值
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue 返回指针指向的字符串，nil 返回空字符串
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
