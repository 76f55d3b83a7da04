package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace_backend/internal/pkg/config"
	"marketplace_backend/internal/pkg/middleware"
	"marketplace_backend/internal/pkg/push"
	"marketplace_backend/internal/pkg/registry"
	"marketplace_backend/pkg/database"
	"marketplace_backend/pkg/logger"

	// 模块自注册
	_ "marketplace_backend/internal/domain/order"
	_ "marketplace_backend/internal/domain/payment"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib" // sqlx 的 pgx 驱动注册
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	config.LoadConfig()
	if err := logger.Init(config.GlobalConfig.App.Env); err != nil {
		panic(err)
	}
	defer logger.Sync()

	db := database.InitDatabase()

	sqlDB, err := db.DB()
	if err != nil {
		logger.Log.Fatal("extract sql.DB failed", zap.Error(err))
	}
	sqlxDB := sqlx.NewDb(sqlDB, "pgx")

	rdb := database.InitRedis()

	// 推送配置缺失时降级为无推送，不阻塞启动
	if err := push.InitPushService(); err != nil {
		logger.Log.Warn("push service disabled", zap.Error(err))
	}

	gin.SetMode(config.GlobalConfig.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.RateLimitMiddleware())
	router.Use(middleware.MetricsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	moduleCtx := &registry.ModuleContext{
		DB:     db,
		SQLX:   sqlxDB,
		Redis:  rdb,
		Router: router,
	}
	if err := registry.InitModules(moduleCtx); err != nil {
		logger.Log.Fatal("module init failed", zap.Error(err))
	}

	srv := &http.Server{
		Addr:    ":" + config.GlobalConfig.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Log.Info("server listening", zap.String("port", config.GlobalConfig.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("forced shutdown", zap.Error(err))
	}

	// 请求排空后再停后台任务
	registry.ShutdownModules()
}
