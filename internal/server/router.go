// Package server 组装 HTTP 路由
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/KlutzyFella/Papyrus/internal/handler"
	"github.com/KlutzyFella/Papyrus/internal/logger"
	"github.com/KlutzyFella/Papyrus/internal/middleware"
	"github.com/KlutzyFella/Papyrus/internal/observability"
	"github.com/KlutzyFella/Papyrus/internal/websocket"
)

// Pinger 健康检查依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterConfig 路由依赖
type RouterConfig struct {
	Logger       *logger.Logger
	ServiceName  string
	CORSOrigins  []string
	TraceEnabled bool

	Auth            *middleware.Authenticator
	Limiter         *middleware.LimiterPool
	DocumentsPublic bool // 为 true 时 /documents 不要求登录
	Metrics         *observability.Metrics
	HealthChecks    map[string]Pinger

	AuthHandler     *handler.AuthHandler
	UserHandler     *handler.UserHandler
	MessageHandler  *handler.MessageHandler
	DocumentHandler *handler.DocumentHandler
	WSHandler       *websocket.Handler
}

// NewRouter 创建 Gin 引擎并注册所有路由
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()

	// 全局中间件
	router.Use(middleware.RecoveryMiddleware(cfg.Logger))
	if cfg.TraceEnabled {
		router.Use(middleware.TracingMiddleware(cfg.ServiceName))
	}
	router.Use(middleware.LoggerMiddleware(cfg.Logger))
	router.Use(middleware.CORSMiddleware(cfg.CORSOrigins))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/health", healthHandler(cfg.HealthChecks))
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	auth := router.Group("/auth")
	{
		auth.POST("/register", cfg.AuthHandler.Register)
		auth.POST("/login", cfg.AuthHandler.Login)
		auth.POST("/refresh", cfg.AuthHandler.RefreshToken)
		auth.POST("/logout", cfg.Auth.Required(), cfg.AuthHandler.Logout)
	}

	// 文档解析默认需要登录，关闭后匿名请求按 IP 限流
	if cfg.DocumentsPublic {
		router.POST("/documents", cfg.Auth.Optional(), middleware.RateLimit(cfg.Limiter), cfg.DocumentHandler.ExtractText)
	} else {
		router.POST("/documents", cfg.Auth.Required(), middleware.RateLimit(cfg.Limiter), cfg.DocumentHandler.ExtractText)
	}

	// ===============
	// || Protected ||
	// ===============
	protected := router.Group("/")
	protected.Use(cfg.Auth.Required())

	protected.GET("/messages", cfg.MessageHandler.ListMessages)
	protected.POST("/messages", cfg.MessageHandler.AppendMessage)

	protected.GET("/users/me", cfg.UserHandler.GetProfile)
	protected.PUT("/users/me/password", cfg.UserHandler.ChangePassword)

	cfg.WSHandler.RegisterRoutes(protected)

	return router
}

// healthHandler 依次检查依赖，任一失败返回 503
func healthHandler(checks map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		result := gin.H{}
		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				result[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = "ok"
		}
		if status == http.StatusOK {
			c.JSON(status, gin.H{"status": "ok", "checks": result})
			return
		}
		c.JSON(status, gin.H{"status": "degraded", "checks": result})
	}
}
