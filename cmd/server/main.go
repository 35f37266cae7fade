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

	"finchat-go/internal/config"
	"finchat-go/internal/handler"
	"finchat-go/internal/middleware"
	"finchat-go/internal/model"
	"finchat-go/internal/pipeline"
	"finchat-go/internal/repository"
	"finchat-go/internal/service"
	"finchat-go/pkg/database"
	"finchat-go/pkg/kafka"
	"finchat-go/pkg/llm"
	"finchat-go/pkg/log"
	"finchat-go/pkg/quotes"
	"finchat-go/pkg/token"

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

	// 3. 初始化数据库和 Redis
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err := database.DB.AutoMigrate(
		&model.Transaction{},
		&model.HoldingLot{},
		&model.Account{},
		&model.FxRate{},
		&model.WatchlistItem{},
		&model.Setting{},
	); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	producer := kafka.NewProducer(cfg.Kafka)

	// 4. 初始化 Repository
	financeRepo := repository.NewFinanceRepository(database.DB)
	quoteRepo := repository.NewQuoteRepository(database.RDB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	quotesClient := quotes.NewClient(cfg.Quotes)
	quoteSource := service.NewCachedQuoteSource(quoteRepo, quotesClient, cfg.Quotes.CacheTTLMinutes)

	// 模型白名单在这里生效：配置了不允许的模型属于硬性配置错误，直接终止启动。
	gateway, err := llm.NewGateway(cfg.Provider, cfg.Assistant)
	if err != nil {
		log.Fatal("模型服务商配置不合法", err)
	}

	router := service.NewIntentRouter()
	memory := service.NewConversationMemory(cfg.Assistant.MaxTurns, cfg.Assistant.SessionTTLHours)
	aggregator := service.NewAggregator(financeRepo, quoteSource, cfg.Assistant.BaseCurrency)
	toolGateway := service.NewToolGateway(aggregator, financeRepo, producer)
	assistant := service.NewAssistantService(router, memory, gateway, toolGateway, cfg)

	// 6. 启动后台 Kafka 消费者（行情刷新管道）
	refresher := pipeline.NewQuoteRefresher(quotesClient, quoteRepo, cfg.Quotes)
	go kafka.StartConsumer(cfg.Kafka, refresher)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	chatHandler := handler.NewChatHandler(assistant, jwtManager)
	watchlistHandler := handler.NewWatchlistHandler(financeRepo, producer)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(jwtManager))
	{
		apiV1.POST("/chat", chatHandler.Chat)
		apiV1.GET("/chat/history", chatHandler.History)
		apiV1.POST("/watchlist", watchlistHandler.Add)
	}

	// Chat 路由 (WebSocket)，token 在路径中携带
	r.GET("/chat/:token", chatHandler.HandleWS)

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
