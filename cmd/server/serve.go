package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/KlutzyFella/Papyrus/internal/cache"
	"github.com/KlutzyFella/Papyrus/internal/chat"
	"github.com/KlutzyFella/Papyrus/internal/completion"
	"github.com/KlutzyFella/Papyrus/internal/config"
	"github.com/KlutzyFella/Papyrus/internal/database"
	"github.com/KlutzyFella/Papyrus/internal/extractor"
	"github.com/KlutzyFella/Papyrus/internal/handler"
	"github.com/KlutzyFella/Papyrus/internal/logger"
	"github.com/KlutzyFella/Papyrus/internal/middleware"
	"github.com/KlutzyFella/Papyrus/internal/observability"
	"github.com/KlutzyFella/Papyrus/internal/repository"
	"github.com/KlutzyFella/Papyrus/internal/server"
	"github.com/KlutzyFella/Papyrus/internal/service"
	"github.com/KlutzyFella/Papyrus/internal/websocket"
	"github.com/KlutzyFella/Papyrus/pkg/jwt"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP / WebSocket 服务",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 可观测性
	metrics := observability.Init()
	shutdownOTel := observability.InitOTel(ctx, log, cfg.OTel)

	// 初始化数据库
	db, err := database.Open(cfg.Database, cfg.Server.Mode)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := database.Migrate(db); err != nil {
		return err
	}
	log.Info("database ready", "driver", cfg.Database.Driver)

	// 初始化 Redis
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		return err
	}
	defer redisCache.Close()

	// 外部服务
	completer, err := completion.New(cfg.AI, log)
	if err != nil {
		return err
	}
	ext, err := extractor.New(ctx, cfg.Extractor, log)
	if err != nil {
		return err
	}
	defer ext.Close()

	jwtService := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpire, cfg.JWT.RefreshExpire)

	// 初始化 Repository 层
	userRepo := repository.NewUserRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	// 初始化 Service 层
	authService := service.NewAuthService(userRepo, redisCache, jwtService)
	userService := service.NewUserService(userRepo)
	messageService := service.NewMessageService(messageRepo, redisCache, log)

	// 初始化 WebSocket Hub
	hub := websocket.NewHub(redisCache, log)
	limiter := middleware.NewLimiterPool(cfg.RateLimit)
	wsHandler := websocket.NewHandler(hub, websocket.HandlerConfig{
		Deps: chat.Deps{
			Log:               messageService,
			Completer:         completer,
			Extractor:         ext,
			CompletionTimeout: cfg.AI.Timeout,
			Logger:            log,
		},
		Limiter:        limiter,
		AllowedOrigins: cfg.Server.CORS,
		MaxDocument:    cfg.Extractor.MaxBytes,
		Logger:         log,
	})

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := server.NewRouter(server.RouterConfig{
		Logger:          log,
		ServiceName:     cfg.OTel.ServiceName,
		CORSOrigins:     cfg.Server.CORS,
		TraceEnabled:    cfg.OTel.Enabled,
		Auth:            middleware.NewAuthenticator(jwtService, redisCache, cfg.JWT.CookieName),
		Limiter:         limiter,
		DocumentsPublic: !cfg.Documents.RequireAuth,
		Metrics:         metrics,
		HealthChecks: map[string]server.Pinger{
			"database": pingerFunc(sqlDB.PingContext),
			"redis":    redisCache,
		},
		AuthHandler:     handler.NewAuthHandler(authService, handler.CookieConfig{Name: cfg.JWT.CookieName, Secure: cfg.JWT.CookieSecure}),
		UserHandler:     handler.NewUserHandler(userService),
		MessageHandler:  handler.NewMessageHandler(messageService),
		DocumentHandler: handler.NewDocumentHandler(ext, cfg.Extractor.MaxBytes, log),
		WSHandler:       wsHandler,
	})

	// 大模型调用可能持续到 ai.timeout，写超时不能小于它
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.AI.Timeout + 30*time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		log.Info("server starting", "addr", httpServer.Addr, "mode", cfg.Server.Mode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 优雅关闭
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("server forced to shutdown", "error", err)
		}
		if err := shutdownOTel(shutdownCtx); err != nil {
			log.Warn("otel shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server exited")
	return nil
}

// pingerFunc 把函数适配为 server.Pinger
type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}
