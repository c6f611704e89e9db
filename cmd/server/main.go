// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vibin-go/internal/config"
	"vibin-go/internal/handler"
	"vibin-go/internal/kv"
	"vibin-go/internal/middleware"
	"vibin-go/internal/model"
	"vibin-go/internal/notify"
	"vibin-go/internal/repository"
	"vibin-go/internal/service"
	"vibin-go/pkg/database"
	"vibin-go/pkg/log"
	"vibin-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化 MySQL（账号）和 Redis（kv 层远端后端，允许缺席）
	database.InitMySQL(cfg.Database.MySQL.DSN)
	if err := database.DB.AutoMigrate(&model.User{}); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	redisTimeout := time.Duration(cfg.Database.Redis.TimeoutSeconds) * time.Second
	if redisTimeout <= 0 {
		redisTimeout = 5 * time.Second
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB, redisTimeout)

	// 4. 组装 kv 层：内存后端 + 远端后端 + 故障切换 + 变更通知
	hub := notify.NewHub()
	memory := kv.NewMemoryStore()
	var remote kv.Store
	if database.RDB != nil {
		remote = kv.NewRemoteStore(database.RDB, redisTimeout)
	}
	store := kv.NewFailoverStore(remote, memory, hub)
	// 启动诊断：当前走哪个后端
	if store.Degraded() {
		log.Warnf("kv 层以降级模式启动，所有数据仅保存在进程内存中")
	} else {
		log.Info("kv 层已连接远端命令服务")
	}

	// 5. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	connectionRepo := repository.NewConnectionRepository(store)
	conversationRepo := repository.NewConversationRepository(store)
	settingsRepo := repository.NewSettingsRepository(store)

	// 6. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	userService := service.NewUserService(userRepo, jwtManager)
	connectionService := service.NewConnectionService(connectionRepo)
	settingsService := service.NewSettingsService(settingsRepo)
	conversationService := service.NewConversationService(conversationRepo, settingsRepo, cfg.Chat.PageSize)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	userHandler := handler.NewUserHandler(userService)
	authHandler := handler.NewAuthHandler(userService)
	connectionHandler := handler.NewConnectionHandler(connectionService)
	conversationHandler := handler.NewConversationHandler(conversationService, settingsService)
	feedHandler := handler.NewFeedHandler(hub)

	apiV1 := r.Group("/api/v1")
	{
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", authHandler.RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", userHandler.GetProfile)
				authed.PUT("/me", userHandler.UpdateProfile)
				authed.GET("/settings", conversationHandler.GetSettings)
				authed.PUT("/settings", conversationHandler.UpdateSettings)
			}
		}

		// Connection 路由组，需要认证
		connections := apiV1.Group("/connections")
		connections.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			connections.GET("/outgoing", connectionHandler.GetOutgoing)
			connections.PUT("/outgoing", connectionHandler.ApplyOutgoingMap)
			connections.GET("/incoming", connectionHandler.GetIncoming)
			connections.PUT("/incoming", connectionHandler.ApplyIncomingMap)
			connections.PUT("/:target", connectionHandler.SetConnection)
		}

		// Conversation 路由组，需要认证
		conversations := apiV1.Group("/conversations")
		conversations.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			conversations.GET("", conversationHandler.ListConversations)
			conversations.POST("/messages", conversationHandler.SendMessage)
			conversations.GET("/:peer/messages", conversationHandler.FetchMessages)
			conversations.POST("/:peer/read", conversationHandler.MarkRead)
			conversations.GET("/:peer/meta", conversationHandler.GetMeta)
		}

		// 变更订阅 (WebSocket)，需要认证
		feed := apiV1.Group("/feed")
		feed.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			feed.GET("", feedHandler.Stream)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
