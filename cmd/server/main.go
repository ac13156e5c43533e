package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/iridiumtao/NYU-Marketplace/internal/config"
	"github.com/iridiumtao/NYU-Marketplace/internal/handler"
	"github.com/iridiumtao/NYU-Marketplace/internal/middleware"
	"github.com/iridiumtao/NYU-Marketplace/internal/model"
	"github.com/iridiumtao/NYU-Marketplace/internal/repository"
	"github.com/iridiumtao/NYU-Marketplace/internal/service"
	"github.com/iridiumtao/NYU-Marketplace/internal/ws"
	"github.com/iridiumtao/NYU-Marketplace/migrations"
	"github.com/iridiumtao/NYU-Marketplace/pkg/auth"
	"github.com/iridiumtao/NYU-Marketplace/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	cfg := config.Load()

	if err := logger.Init(logger.Config{
		FileName:   cfg.Log.FileName,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Level:      cfg.Log.Level,
	}, cfg.App.Env); err != nil {
		panic(err)
	}
	defer zap.L().Sync()

	zap.L().Info("starting marketplace chat service", zap.String("env", cfg.App.Env))

	// ==================== Database (PostgreSQL) ====================
	gormLog := gormlogger.Default.LogMode(gormlogger.Warn)
	if cfg.App.Env != "production" {
		gormLog = gormlogger.Default.LogMode(gormlogger.Info)
	}

	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		zap.L().Fatal("failed to connect to database", zap.Error(err))
	}
	zap.L().Info("connected to PostgreSQL")

	// ==================== Migrations ====================
	if err := migrations.Run(cfg.DB.URL()); err != nil {
		zap.L().Warn("sql migrations failed, falling back to AutoMigrate", zap.Error(err))
		if err := db.AutoMigrate(
			&model.User{},
			&model.Conversation{},
			&model.ConversationParticipant{},
			&model.Message{},
		); err != nil {
			zap.L().Fatal("failed to migrate database", zap.Error(err))
		}
	}
	zap.L().Info("database schema up to date")

	// ==================== Redis (hub fan-out bus) ====================
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       0,
		})
		if _, err := rdb.Ping(context.Background()).Result(); err != nil {
			zap.L().Fatal("failed to connect to Redis", zap.Error(err))
		}
		zap.L().Info("connected to Redis", zap.String("addr", cfg.Redis.Addr()))
	} else {
		zap.L().Warn("Redis disabled: realtime fan-out is single-node only")
	}

	// ==================== Layers ====================
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiry)

	userRepo := repository.NewUserRepository(db)
	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)

	chatService := service.NewChatService(convRepo, msgRepo, userRepo)

	hub := ws.NewHub(rdb)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	chatHandler := handler.NewChatHandler(chatService, hub)
	wsHandler := handler.NewWSHandler(hub, chatService, jwtManager)

	// ==================== Gin Router ====================
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(logger.GinLogger(), logger.GinRecovery())
	router.Use(middleware.CORSMiddleware(cfg.CORS.Origins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "marketplace-chat",
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	api := router.Group("/api/v1")
	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(jwtManager))
	{
		protected.POST("/conversations/direct", chatHandler.GetOrCreateDirect)
		protected.GET("/conversations", chatHandler.GetConversations)
		protected.GET("/conversations/:id", chatHandler.GetConversation)
		protected.GET("/conversations/:id/messages", chatHandler.GetMessages)
		protected.POST("/conversations/:id/send", chatHandler.SendMessage)
		protected.POST("/conversations/:id/read", chatHandler.MarkAsRead)
	}

	// Realtime endpoint, auth via ?token= (no headers on WS handshakes)
	router.GET("/ws/conversations/:id", wsHandler.HandleConversation)

	// ==================== Start Server ====================
	srv := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("server failed", zap.Error(err))
		}
	}()
	zap.L().Info("chat service listening", zap.String("port", cfg.App.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Fatal("forced shutdown", zap.Error(err))
	}

	hubCancel()
	zap.L().Info("server exited gracefully")
}
