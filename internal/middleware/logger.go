package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/KlutzyFella/Papyrus/internal/logger"
	"github.com/KlutzyFella/Papyrus/internal/observability"
	"github.com/KlutzyFella/Papyrus/pkg/response"
)

// LoggerMiddleware 创建请求日志中间件
// 记录每个请求的方法、路径、状态码和耗时，同时上报接口指标
// 日志级别按状态码区分:
//   - 500-599: Error
//   - 400-499: Warn
//   - 其它: Info
func LoggerMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		// 指标按路由模板聚合，未匹配路由统一记为 unmatched
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		observability.Current().ObserveAPI(c.Request.Method, route, status, latency)

		kv := []interface{}{
			"status", status,
			"method", c.Request.Method,
			"path", path,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if userID := GetUserID(c); userID != 0 {
			kv = append(kv, "user_id", userID)
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			kv = append(kv, "errors", errs)
		}

		switch {
		case status >= http.StatusInternalServerError:
			log.Error("request", kv...)
		case status >= http.StatusBadRequest:
			log.Warn("request", kv...)
		default:
			log.Info("request", kv...)
		}
	}
}

// RecoveryMiddleware 创建 panic 恢复中间件
// 捕获处理器中的 panic，返回 500
func RecoveryMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("panic recovered", "path", c.Request.URL.Path, "panic", err)
				response.AbortWithCode(c, http.StatusInternalServerError, response.CodeInternalError, "Internal server error")
			}
		}()
		c.Next()
	}
}

// TracingMiddleware 为每个请求创建 span
func TracingMiddleware(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName)
}
